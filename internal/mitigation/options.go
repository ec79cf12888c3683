package mitigation

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaguard/internal/audit"
	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithClock sets the time source. Tests use it to drive time-based
// behavior without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the logger shared with the leaf components.
func WithLogger(logger observability.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithAuditSink sets the audit sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithMetrics sets the metrics. Engines that replace each other should
// share one Metrics value.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithTracer sets the tracer used for admission spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// BlockOption configures a BlockIP call.
type BlockOption func(*blockRequest)

type blockRequest struct {
	duration  time.Duration
	permanent bool
}

// WithDuration sets the block duration. A non-positive duration is rejected.
func WithDuration(d time.Duration) BlockOption {
	return func(r *blockRequest) {
		r.duration = d
	}
}

// Permanent installs a block without expiry.
func Permanent() BlockOption {
	return func(r *blockRequest) {
		r.permanent = true
	}
}
