package mitigation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaguard/internal/audit"
	"github.com/vyrodovalexey/avaguard/internal/config"
	"github.com/vyrodovalexey/avaguard/internal/observability"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []*audit.Event
	traces map[string]string
}

func (s *recordingSink) LogEvent(ctx context.Context, e *audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		if s.traces == nil {
			s.traces = map[string]string{}
		}
		s.traces[e.ID] = sc.TraceID().String()
	}
}

func (s *recordingSink) traceOf(e *audit.Event) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traces[e.ID]
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) byAction(action audit.Action) []*audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) byType(t audit.EventType) []*audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type testEngine struct {
	*Engine
	clock *fakeClock
	sink  *recordingSink
	reg   *prometheus.Registry
}

func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := config.DefaultConfig()
	cfg.IPBlocking.Whitelist = nil
	cfg.Engine.Shards = 4
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*config.Config), opts ...Option) *testEngine {
	t.Helper()

	clock := newFakeClock()
	sink := &recordingSink{}
	reg := prometheus.NewRegistry()

	all := append([]Option{
		WithClock(clock.Now),
		WithAuditSink(sink),
		WithMetrics(observability.NewMetrics("avaguard", reg)),
	}, opts...)

	e, err := New(testConfig(mutate), all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return &testEngine{Engine: e, clock: clock, sink: sink, reg: reg}
}

// metricValue returns the value of the counter or gauge series matching labels.
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}
