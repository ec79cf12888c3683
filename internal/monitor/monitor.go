// Package monitor implements per-identity sliding window anomaly detection.
//
// Every observation is appended to the identity's window after pruning
// entries older than the detection window. The rate is the number of
// entries divided by the window length. A rate above the suspicious
// threshold produces an Alert; enough alerts inside one detection window
// signal escalation to the caller.
package monitor

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avaguard/internal/arena"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// Config configures a Monitor.
type Config struct {
	// SuspiciousThreshold is the rate in requests per second above which an identity is suspicious.
	SuspiciousThreshold float64

	// DetectionWindow is the sliding window length.
	DetectionWindow time.Duration

	// AlertThreshold is the number of alerts inside DetectionWindow that escalates.
	AlertThreshold int

	// AlertBufferSize is the ring buffer capacity.
	AlertBufferSize int

	// Severity separates severity levels.
	Severity Multipliers
}

// Observation is the outcome of recording and evaluating one request.
type Observation struct {
	Rate       float64
	Severity   Severity
	Violations int
	Alert      *Alert
	Escalate   bool
}

// Suspicious describes an identity currently above the threshold.
type Suspicious struct {
	Identity   string  `json:"identity"`
	Rate       float64 `json:"requestRate"`
	Violations int     `json:"violations"`
}

// Stats is a snapshot of monitor counters.
type Stats struct {
	TotalRequests       int64        `json:"totalRequests"`
	UniqueIdentities    int64        `json:"uniqueIdentities"`
	AttacksDetected     int64        `json:"attacksDetected"`
	ActiveIdentities    int          `json:"activeIdentities"`
	BufferedAlerts      int          `json:"bufferedAlerts"`
	AlertBufferSize     int          `json:"alertBufferSize"`
	SuspiciousThreshold float64      `json:"suspiciousThreshold"`
	DetectionWindow     float64      `json:"detectionWindowSeconds"`
	AlertThreshold      int          `json:"alertThreshold"`
	SuspiciousCount     int          `json:"suspiciousCount"`
	Suspicious          []Suspicious `json:"suspicious"`
}

// Option is a functional option for the monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithShards sets the number of lock stripes.
func WithShards(n int) Option {
	return func(m *Monitor) {
		m.shards = n
	}
}

type activity struct {
	times      []time.Time
	violations []time.Time
	last       time.Time
}

// Monitor tracks request windows per identity and keeps recent alerts.
type Monitor struct {
	cfg        Config
	maxSamples int
	shards     int
	logger     observability.Logger

	windows *arena.Store[*activity]
	alerts  *ring

	totalRequests    atomic.Int64
	uniqueIdentities atomic.Int64
	attacksDetected  atomic.Int64
}

// New creates a Monitor.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	if cfg.SuspiciousThreshold <= 0 {
		return nil, util.NewConfigError("monitoring.suspiciousThreshold",
			fmt.Sprintf("must be positive, got: %v", cfg.SuspiciousThreshold))
	}
	if cfg.DetectionWindow <= 0 {
		return nil, util.NewConfigError("monitoring.detectionWindow",
			fmt.Sprintf("must be positive, got: %v", cfg.DetectionWindow))
	}
	if cfg.AlertThreshold <= 0 {
		return nil, util.NewConfigError("monitoring.alertThreshold",
			fmt.Sprintf("must be positive, got: %d", cfg.AlertThreshold))
	}
	if cfg.AlertBufferSize <= 0 {
		return nil, util.NewConfigError("monitoring.alertBufferSize",
			fmt.Sprintf("must be positive, got: %d", cfg.AlertBufferSize))
	}
	if cfg.Severity == (Multipliers{}) {
		cfg.Severity = DefaultMultipliers()
	}

	m := &Monitor{
		cfg:    cfg,
		logger: observability.NopLogger(),
		alerts: newRing(cfg.AlertBufferSize),
	}
	// Beyond this many samples the rate is already CRITICAL, so older samples can go.
	m.maxSamples = int(math.Ceil(cfg.Severity.Critical*cfg.SuspiciousThreshold*cfg.DetectionWindow.Seconds())) + 1

	for _, opt := range opts {
		opt(m)
	}
	m.windows = arena.New[*activity](m.shards)

	return m, nil
}

func newActivity() *activity {
	return &activity{}
}

// Record appends an observation for identity at now.
func (m *Monitor) Record(identity string, now time.Time) {
	m.upsert(identity, now, func(a *activity) {
		now = m.clamp(identity, a, now)
		m.pruneLocked(a, now)
		m.appendLocked(a, now)
	})
	m.totalRequests.Add(1)
}

// Evaluate computes the current rate of identity and emits an alert when it
// exceeds the threshold. escalate reports that alerts reached AlertThreshold
// inside the detection window.
func (m *Monitor) Evaluate(identity, endpoint, method string, now time.Time) (alert *Alert, escalate bool) {
	var obs Observation
	m.upsert(identity, now, func(a *activity) {
		now = m.clamp(identity, a, now)
		m.pruneLocked(a, now)
		obs = m.evaluateLocked(identity, endpoint, method, a, now)
	})
	m.publish(obs.Alert)
	return obs.Alert, obs.Escalate
}

// Observe records and evaluates in one critical section.
func (m *Monitor) Observe(identity, endpoint, method string, now time.Time) Observation {
	var obs Observation
	m.upsert(identity, now, func(a *activity) {
		now = m.clamp(identity, a, now)
		m.pruneLocked(a, now)
		m.appendLocked(a, now)
		obs = m.evaluateLocked(identity, endpoint, method, a, now)
	})
	m.totalRequests.Add(1)
	m.publish(obs.Alert)
	return obs
}

func (m *Monitor) upsert(identity string, now time.Time, fn func(a *activity)) {
	created := m.windows.Upsert(identity, now, newActivity, func(a *activity, _ bool) {
		fn(a)
	})
	if created {
		m.uniqueIdentities.Add(1)
	}
}

func (m *Monitor) clamp(identity string, a *activity, now time.Time) time.Time {
	if now.Before(a.last) {
		m.logger.Warn("clock moved backwards, clamping observation time",
			observability.String("identity", identity),
			observability.Duration("skew", a.last.Sub(now)),
		)
		return a.last
	}
	a.last = now
	return now
}

// inWindow reports whether t is inside the window ending at now.
func (m *Monitor) inWindow(t, now time.Time) bool {
	return now.Sub(t) < m.cfg.DetectionWindow
}

func (m *Monitor) pruneLocked(a *activity, now time.Time) {
	i := 0
	for i < len(a.times) && !m.inWindow(a.times[i], now) {
		i++
	}
	a.times = a.times[i:]

	j := 0
	for j < len(a.violations) && !m.inWindow(a.violations[j], now) {
		j++
	}
	a.violations = a.violations[j:]
}

func (m *Monitor) appendLocked(a *activity, now time.Time) {
	if len(a.times) >= m.maxSamples {
		a.times = a.times[1:]
	}
	a.times = append(a.times, now)
}

func (m *Monitor) rate(samples int) float64 {
	return float64(samples) / m.cfg.DetectionWindow.Seconds()
}

func (m *Monitor) evaluateLocked(identity, endpoint, method string, a *activity, now time.Time) Observation {
	rate := m.rate(len(a.times))
	severity := m.cfg.Severity.Classify(rate, m.cfg.SuspiciousThreshold)
	obs := Observation{Rate: rate, Severity: severity, Violations: len(a.violations)}
	if severity == SeverityNone {
		return obs
	}

	// Only the most recent AlertThreshold violations matter for escalation.
	if len(a.violations) >= m.cfg.AlertThreshold {
		a.violations = a.violations[1:]
	}
	a.violations = append(a.violations, now)

	obs.Violations = len(a.violations)
	obs.Escalate = obs.Violations >= m.cfg.AlertThreshold
	obs.Alert = &Alert{
		ID:          uuid.NewString(),
		Identity:    identity,
		Timestamp:   now,
		RequestRate: math.Round(rate*100) / 100,
		Severity:    severity,
		Reason: fmt.Sprintf("request rate %.2f/s exceeds threshold %.2f/s",
			rate, m.cfg.SuspiciousThreshold),
		Endpoint:   endpoint,
		Method:     method,
		Violations: obs.Violations,
		Escalated:  obs.Escalate,
	}
	return obs
}

func (m *Monitor) publish(alert *Alert) {
	if alert == nil {
		return
	}
	m.alerts.push(*alert)
	m.attacksDetected.Add(1)
	m.logger.Warn("suspicious traffic detected",
		observability.String("identity", alert.Identity),
		observability.Float64("request_rate", alert.RequestRate),
		observability.String("severity", alert.Severity.String()),
		observability.Int("violations", alert.Violations),
		observability.Bool("escalated", alert.Escalated),
	)
}

// CurrentRate returns the rate of identity over the window ending at now
// without recording anything.
func (m *Monitor) CurrentRate(identity string, now time.Time) float64 {
	count := 0
	m.windows.View(identity, func(a *activity) {
		for _, t := range a.times {
			if m.inWindow(t, now) && !t.After(now) {
				count++
			}
		}
	})
	return m.rate(count)
}

// RecentAlerts returns up to limit alerts, newest first.
func (m *Monitor) RecentAlerts(limit int) []Alert {
	return m.alerts.recent(limit)
}

// ResetViolations clears the escalation history of identity.
func (m *Monitor) ResetViolations(identity string) {
	m.windows.View(identity, func(a *activity) {
		a.violations = nil
	})
}

// Forget drops all state of identity.
func (m *Monitor) Forget(identity string) {
	m.windows.Delete(identity)
}

// Reset clears windows, alerts and counters.
func (m *Monitor) Reset() {
	m.windows.Clear()
	m.alerts.clear()
	m.totalRequests.Store(0)
	m.uniqueIdentities.Store(0)
	m.attacksDetected.Store(0)
}

// Reap evicts windows untouched since before cutoff.
func (m *Monitor) Reap(cutoff time.Time) int {
	return m.windows.Reap(cutoff, nil)
}

// Len returns the number of tracked identities.
func (m *Monitor) Len() int {
	return m.windows.Len()
}

// Stats returns a snapshot. Suspicious identities are evaluated at now and
// sorted by descending rate.
func (m *Monitor) Stats(now time.Time) Stats {
	stats := Stats{
		TotalRequests:       m.totalRequests.Load(),
		UniqueIdentities:    m.uniqueIdentities.Load(),
		AttacksDetected:     m.attacksDetected.Load(),
		BufferedAlerts:      m.alerts.len(),
		AlertBufferSize:     m.alerts.capacity(),
		SuspiciousThreshold: m.cfg.SuspiciousThreshold,
		DetectionWindow:     m.cfg.DetectionWindow.Seconds(),
		AlertThreshold:      m.cfg.AlertThreshold,
		Suspicious:          []Suspicious{},
	}

	m.windows.Range(func(identity string, a *activity) bool {
		count, violations := 0, 0
		for _, t := range a.times {
			if m.inWindow(t, now) {
				count++
			}
		}
		for _, t := range a.violations {
			if m.inWindow(t, now) {
				violations++
			}
		}
		if count > 0 {
			stats.ActiveIdentities++
		}
		if rate := m.rate(count); rate > m.cfg.SuspiciousThreshold {
			stats.Suspicious = append(stats.Suspicious, Suspicious{
				Identity:   identity,
				Rate:       math.Round(rate*100) / 100,
				Violations: violations,
			})
		}
		return true
	})

	sort.Slice(stats.Suspicious, func(i, j int) bool {
		if stats.Suspicious[i].Rate != stats.Suspicious[j].Rate {
			return stats.Suspicious[i].Rate > stats.Suspicious[j].Rate
		}
		return stats.Suspicious[i].Identity < stats.Suspicious[j].Identity
	})
	stats.SuspiciousCount = len(stats.Suspicious)

	return stats
}
