package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// Sink receives audit events. LogEvent must not block for long; it runs
// on the admission path.
type Sink interface {
	// LogEvent stores an audit event.
	LogEvent(ctx context.Context, event *Event)

	// Close releases the sink.
	Close() error
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal  *prometheus.CounterVec
	droppedTotal *prometheus.CounterVec
}

// NewMetricsWithRegisterer creates audit metrics registered with the
// provided registerer. Duplicate registration is ignored so several sinks
// may share one registry.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avaguard"
	}
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events written",
			},
			[]string{"sink", "type", "outcome"},
		),
		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_dropped_total",
				Help:      "Total number of audit events dropped",
			},
			[]string{"sink"},
		),
	}

	m.eventsTotal = registerOrExisting(registerer, m.eventsTotal)
	m.droppedTotal = registerOrExisting(registerer, m.droppedTotal)

	return m
}

func registerOrExisting(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

// RecordEvent records a written event.
func (m *Metrics) RecordEvent(sink string, event *Event) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(sink, string(event.Type), string(event.Outcome)).Inc()
}

// RecordDropped records a dropped event.
func (m *Metrics) RecordDropped(sink string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(sink).Inc()
}

// SinkOption is a functional option shared by the sinks.
type SinkOption func(*sinkOptions)

type sinkOptions struct {
	logger  observability.Logger
	metrics *Metrics
	writer  io.Writer
}

// WithLogger sets the logger used for sink failures.
func WithLogger(l observability.Logger) SinkOption {
	return func(o *sinkOptions) {
		o.logger = l
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) SinkOption {
	return func(o *sinkOptions) {
		o.metrics = m
	}
}

// WithWriter overrides the configured output of a WriterSink.
func WithWriter(w io.Writer) SinkOption {
	return func(o *sinkOptions) {
		o.writer = w
	}
}

func applyOptions(opts []SinkOption) sinkOptions {
	o := sinkOptions{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// stampTrace fills trace and span IDs from the span in ctx.
func stampTrace(ctx context.Context, event *Event) {
	if ctx == nil {
		return
	}
	sc := trace.SpanContextFromContext(ctx)
	if event.TraceID == "" && sc.HasTraceID() {
		event.TraceID = sc.TraceID().String()
	}
	if event.SpanID == "" && sc.HasSpanID() {
		event.SpanID = sc.SpanID().String()
	}
}

// WriterSink writes events as JSON lines or text to an io.Writer.
type WriterSink struct {
	config  *Config
	level   Level
	writer  io.Writer
	closer  io.Closer
	mu      sync.Mutex
	logger  observability.Logger
	metrics *Metrics
}

// NewWriterSink creates a sink writing to the configured output.
func NewWriterSink(config *Config, opts ...SinkOption) (*WriterSink, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	s := &WriterSink{
		config:  config,
		level:   config.EffectiveLevel(),
		writer:  o.writer,
		logger:  o.logger,
		metrics: o.metrics,
	}

	if s.writer == nil {
		writer, closer, err := createWriter(config.EffectiveOutput())
		if err != nil {
			return nil, err
		}
		s.writer = writer
		s.closer = closer
	}

	return s, nil
}

func createWriter(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		//nolint:gosec // G304: path from config is trusted
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

// LogEvent writes event when it passes the level filter.
func (s *WriterSink) LogEvent(ctx context.Context, event *Event) {
	if event == nil || !s.config.Enabled || !s.level.Enables(event.Level) {
		return
	}
	stampTrace(ctx, event)

	var output []byte
	if s.config.EffectiveFormat() == formatText {
		output = []byte(formatTextLine(event))
	} else {
		var err error
		output, err = json.Marshal(event)
		if err != nil {
			s.logger.Error("failed to marshal audit event", observability.Error(err))
			return
		}
		output = append(output, '\n')
	}

	s.mu.Lock()
	_, err := s.writer.Write(output)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("failed to write audit event", observability.Error(err))
		s.metrics.RecordDropped("writer")
		return
	}
	s.metrics.RecordEvent("writer", event)
}

func formatTextLine(event *Event) string {
	var sb strings.Builder

	sb.WriteString(event.Timestamp.Format(time.RFC3339Nano))
	sb.WriteString(" ")
	sb.WriteString(strings.ToUpper(string(event.Level)))
	sb.WriteString(" ")
	sb.WriteString(string(event.Type))
	sb.WriteString(" ")
	sb.WriteString(string(event.Action))
	sb.WriteString(" ")
	sb.WriteString(string(event.Outcome))

	if event.Identity != "" {
		sb.WriteString(" identity=")
		sb.WriteString(event.Identity)
	}
	if event.Endpoint != "" {
		sb.WriteString(" endpoint=")
		sb.WriteString(event.Endpoint)
	}
	if event.Method != "" {
		sb.WriteString(" method=")
		sb.WriteString(event.Method)
	}
	if event.Reason != "" {
		sb.WriteString(" reason=")
		sb.WriteString(fmt.Sprintf("%q", event.Reason))
	}
	if event.TraceID != "" {
		sb.WriteString(" trace_id=")
		sb.WriteString(event.TraceID)
	}

	sb.WriteString("\n")
	return sb.String()
}

// Close closes the output file, if the sink opened one.
func (s *WriterSink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// LoggerSink forwards events to an observability logger at a matching level.
type LoggerSink struct {
	logger observability.Logger
	level  Level
}

// NewLoggerSink creates a sink that logs events at or above level.
func NewLoggerSink(logger observability.Logger, level Level) *LoggerSink {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if level == "" {
		level = LevelInfo
	}
	return &LoggerSink{logger: logger.With(observability.String("component", "audit")), level: level}
}

// LogEvent logs event.
func (s *LoggerSink) LogEvent(ctx context.Context, event *Event) {
	if event == nil || !s.level.Enables(event.Level) {
		return
	}
	stampTrace(ctx, event)

	fields := []observability.Field{
		observability.String("event_id", event.ID),
		observability.String("type", string(event.Type)),
		observability.String("action", string(event.Action)),
		observability.String("outcome", string(event.Outcome)),
		observability.String("identity", event.Identity),
	}
	if event.Reason != "" {
		fields = append(fields, observability.String("reason", event.Reason))
	}
	if event.TraceID != "" {
		fields = append(fields, observability.String("trace_id", event.TraceID))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, observability.Any("metadata", event.Metadata))
	}

	switch event.Level {
	case LevelDebug:
		s.logger.Debug("audit event", fields...)
	case LevelInfo:
		s.logger.Info("audit event", fields...)
	case LevelWarn:
		s.logger.Warn("audit event", fields...)
	default:
		s.logger.Error("audit event", fields...)
	}
}

// Close is a no-op.
func (s *LoggerSink) Close() error { return nil }

// MultiSink fans events out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink. Nil sinks are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// LogEvent forwards a copy of event to every sink.
func (m *MultiSink) LogEvent(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	for _, s := range m.sinks {
		e := *event
		s.LogEvent(ctx, &e)
	}
}

// Close closes every sink and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// noopSink discards events.
type noopSink struct{}

// NewNoopSink creates a sink that discards events.
func NewNoopSink() Sink {
	return noopSink{}
}

func (noopSink) LogEvent(context.Context, *Event) {}

func (noopSink) Close() error { return nil }

// Ensure implementations satisfy the interface.
var (
	_ Sink = (*WriterSink)(nil)
	_ Sink = (*LoggerSink)(nil)
	_ Sink = (*MultiSink)(nil)
	_ Sink = noopSink{}
)
