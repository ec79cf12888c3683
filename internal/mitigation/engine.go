package mitigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaguard/internal/access"
	"github.com/vyrodovalexey/avaguard/internal/audit"
	"github.com/vyrodovalexey/avaguard/internal/config"
	"github.com/vyrodovalexey/avaguard/internal/monitor"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/ratelimit"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// Engine is the mitigation coordinator. It is safe for concurrent use.
type Engine struct {
	cfg           *config.Config
	opts          []Option
	autoBlock     bool
	blockDuration time.Duration
	failOpen      bool

	clock   func() time.Time
	logger  observability.Logger
	sink    audit.Sink
	metrics *observability.Metrics
	tracer  trace.Tracer

	limiter *ratelimit.TokenBucketLimiter
	monitor *monitor.Monitor
	access  *access.Filter

	breaker *gobreaker.CircuitBreaker
	faulted atomic.Bool

	counters counters

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	closed  bool
}

type counters struct {
	decisions  atomic.Int64
	allowed    atomic.Int64
	denied     atomic.Int64
	autoBlocks atomic.Int64
	faults     atomic.Int64
	bypassed   atomic.Int64
}

// New creates an Engine from cfg. A nil cfg uses config.DefaultConfig().
// Invalid configuration returns a *util.ConfigError.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		opts:          opts,
		autoBlock:     cfg.IPBlocking.AutoBlock,
		blockDuration: cfg.RateLimiting.BlockDuration.Duration(),
		failOpen:      cfg.Engine.FailureMode != config.FailClosed,
		clock:         time.Now,
		logger:        observability.NopLogger(),
		sink:          audit.NewNoopSink(),
		tracer:        otel.Tracer(observability.TracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observability.NewMetrics("avaguard", nil)
	}

	shards := cfg.EffectiveShards()

	limiter, err := ratelimit.NewTokenBucketLimiter(
		cfg.RateLimiting.MaxRequestsPerWindow,
		cfg.RateLimiting.TimeWindow.Duration(),
		ratelimit.WithLogger(e.logger.With(observability.String("component", observability.ComponentRateLimiter))),
		ratelimit.WithShards(shards),
		ratelimit.WithViolationCeiling(cfg.RateLimiting.ViolationCeiling),
	)
	if err != nil {
		return nil, err
	}

	sev := cfg.Monitoring.Severity
	mon, err := monitor.New(monitor.Config{
		SuspiciousThreshold: cfg.Monitoring.SuspiciousThreshold,
		DetectionWindow:     cfg.Monitoring.DetectionWindow.Duration(),
		AlertThreshold:      cfg.Monitoring.AlertThreshold,
		AlertBufferSize:     cfg.Monitoring.AlertBufferSize,
		Severity:            monitor.Multipliers{Medium: sev.Medium, High: sev.High, Critical: sev.Critical},
	},
		monitor.WithLogger(e.logger.With(observability.String("component", observability.ComponentMonitor))),
		monitor.WithShards(shards),
	)
	if err != nil {
		return nil, err
	}

	filter, err := access.New(cfg.IPBlocking.Whitelist, cfg.IPBlocking.Blacklist,
		access.WithLogger(e.logger.With(observability.String("component", observability.ComponentAccessFilter))),
		access.WithShards(shards),
	)
	if err != nil {
		return nil, err
	}

	e.limiter = limiter
	e.monitor = mon
	e.access = filter
	e.breaker = e.newBreaker()

	return e, nil
}

func (e *Engine) newBreaker() *gobreaker.CircuitBreaker {
	threshold := uint32(0)
	if t := e.cfg.Engine.FaultTripThreshold; t > 0 {
		threshold = uint32(t)
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "avaguard-evaluation",
		MaxRequests: 1,
		Timeout:     e.cfg.Engine.FaultResetTimeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return threshold > 0 && counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("fault circuit state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
}

// Config returns a copy of the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg.Clone()
}

// Admit decides whether a request from identity is allowed. It never
// fails; faults produce the configured fail-open or fail-closed verdict.
func (e *Engine) Admit(ctx context.Context, identity, endpoint, method string) Decision {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "avaguard.admit",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("avaguard.identity", identity),
			attribute.String("avaguard.endpoint", endpoint),
			attribute.String("avaguard.method", method),
		),
	)
	defer span.End()

	var d Decision
	if err := util.ValidateIdentity(identity); err != nil {
		d = newDecision(identity, endpoint, method, e.clock())
		d.deny(ReasonInvalidIdentity, BlockedByEngine, 0)
	} else {
		d = e.guardedEvaluate(ctx, identity, endpoint, method)
	}

	span.SetAttributes(
		attribute.Bool("avaguard.allowed", d.Allowed),
		attribute.String("avaguard.reason", d.Reason),
	)
	if d.BlockedBy != "" {
		span.SetAttributes(attribute.String("avaguard.blocked_by", d.BlockedBy))
	}

	e.counters.decisions.Add(1)
	if d.Allowed {
		e.counters.allowed.Add(1)
	} else {
		e.counters.denied.Add(1)
	}
	e.metrics.RecordDecision(d.Allowed, d.Reason, time.Since(start))
	e.emit(ctx, audit.DecisionEvent(d.at, identity, endpoint, method, d.Allowed, d.Reason).
		WithDuration(time.Since(start)))

	return d
}

// guardedEvaluate runs evaluate with panic recovery. The breaker is only
// consulted after a fault so the fault-free path takes no shared lock.
func (e *Engine) guardedEvaluate(ctx context.Context, identity, endpoint, method string) Decision {
	if !e.faulted.Load() {
		d, err := e.safeEvaluate(ctx, identity, endpoint, method)
		if err == nil {
			return d
		}
		e.faulted.Store(true)
		_, _ = e.breaker.Execute(func() (interface{}, error) { return nil, err })
		return e.faultDecision(ctx, identity, endpoint, method, err)
	}

	var d Decision
	_, err := e.breaker.Execute(func() (interface{}, error) {
		var evalErr error
		d, evalErr = e.safeEvaluate(ctx, identity, endpoint, method)
		return nil, evalErr
	})

	switch {
	case err == nil:
		if e.breaker.State() == gobreaker.StateClosed && e.breaker.Counts().ConsecutiveFailures == 0 {
			e.faulted.Store(false)
		}
		return d
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		e.counters.bypassed.Add(1)
		d = newDecision(identity, endpoint, method, time.Now())
		e.applyFailureMode(&d)
		d.Detail[DetailFaultCircuit] = gobreaker.StateOpen.String()
		return d
	default:
		return e.faultDecision(ctx, identity, endpoint, method, err)
	}
}

func (e *Engine) safeEvaluate(ctx context.Context, identity, endpoint, method string) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = util.NewFaultError("admit", r, time.Now())
		}
	}()
	return e.evaluate(ctx, identity, endpoint, method), nil
}

// faultDecision builds the failure-mode verdict. It reads the wall clock
// because the injected clock may be what faulted.
func (e *Engine) faultDecision(ctx context.Context, identity, endpoint, method string, err error) Decision {
	now := time.Now()

	e.counters.faults.Add(1)
	e.metrics.RecordInternalFault()

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, "evaluation fault")

	d := newDecision(identity, endpoint, method, now)
	e.applyFailureMode(&d)

	e.logger.Error("admission evaluation fault",
		observability.String("identity", identity),
		observability.String("endpoint", endpoint),
		observability.String("method", method),
		observability.String("verdict", d.Reason),
		observability.Error(err),
	)
	e.emit(ctx, audit.FaultEvent(now, identity, endpoint, method, err.Error()).
		WithMetadata("verdict", d.Reason))

	return d
}

func (e *Engine) applyFailureMode(d *Decision) {
	if e.failOpen {
		d.allow(ReasonFailOpen)
		return
	}
	d.deny(ReasonFailClosed, BlockedByEngine, 0)
}

// evaluate runs the decision pipeline.
func (e *Engine) evaluate(ctx context.Context, identity, endpoint, method string) Decision {
	now := e.clock()
	d := newDecision(identity, endpoint, method, now)

	status := e.access.Status(identity, now)
	switch status.State {
	case access.StateWhitelisted:
		d.allow(ReasonWhitelisted)
		return d
	case access.StateBlacklisted:
		d.deny(ReasonBlacklisted, BlockedByAccessFilter, 0)
		return d
	case access.StatePermanentlyBlocked:
		d.Detail[DetailAutoBlocked] = status.Auto
		d.deny(ReasonPermanentlyBlocked, BlockedByAccessFilter, 0)
		return d
	case access.StateTemporarilyBlocked:
		reason := ReasonTemporarilyBlocked
		if status.Auto {
			reason = ReasonAutoBlocked
		}
		d.Detail[DetailExpiresAt] = status.ExpiresAt.UTC().Format(time.RFC3339)
		d.Detail[DetailAutoBlocked] = status.Auto
		d.deny(reason, BlockedByAccessFilter, status.ExpiresAt.Sub(now))
		return d
	}

	res := e.limiter.Allow(identity, now)
	d.Detail[DetailRemainingTokens] = res.Remaining
	if !res.Allowed {
		d.Detail[DetailViolations] = res.Violations
		retry := res.RetryAfter
		if e.autoBlock && res.CeilingCrossed {
			reason := fmt.Sprintf("rate limit violations reached %d", res.Violations)
			if e.installAutoBlock(ctx, identity, now, observability.BlockSourceRateLimit, reason) {
				d.Detail[DetailAutoBlocked] = true
				retry = e.blockDuration
			}
		}
		d.deny(ReasonRateLimitExceeded, BlockedByRateLimiter, retry)
		return d
	}

	obs := e.monitor.Observe(identity, endpoint, method, now)
	d.Detail[DetailRequestRate] = obs.Rate
	if obs.Severity != monitor.SeverityNone {
		d.Detail[DetailSeverity] = obs.Severity.String()
		d.Detail[DetailViolations] = obs.Violations
	}

	if obs.Alert != nil {
		e.metrics.RecordAlert(strings.ToLower(obs.Alert.Severity.String()))
		e.emit(ctx, audit.AlertEvent(now, identity, endpoint, method, obs.Alert.Reason).
			WithMetadata("alertId", obs.Alert.ID).
			WithMetadata("severity", obs.Alert.Severity.String()).
			WithMetadata("requestRate", obs.Alert.RequestRate).
			WithMetadata("violations", obs.Alert.Violations))
	}

	if obs.Escalate && e.autoBlock {
		reason := fmt.Sprintf("%d alerts within %s", obs.Violations, e.cfg.Monitoring.DetectionWindow.Duration())
		if e.installAutoBlock(ctx, identity, now, observability.BlockSourceAnomaly, reason) {
			d.Detail[DetailAutoBlocked] = true
			d.deny(ReasonAnomalyAutoBlocked, BlockedByTrafficMonitor, e.blockDuration)
			return d
		}
	}

	d.allow(ReasonOK)
	return d
}

// installAutoBlock installs an escalation block. It reports false when
// the identity was whitelisted in the meantime.
func (e *Engine) installAutoBlock(ctx context.Context, identity string, now time.Time, source, reason string) bool {
	applied, err := e.access.Block(identity, now, access.BlockOptions{Duration: e.blockDuration, Auto: true})
	if err != nil || !applied {
		return false
	}

	e.counters.autoBlocks.Add(1)
	e.metrics.RecordBlock(source)
	e.logger.Warn("identity auto-blocked",
		observability.String("identity", identity),
		observability.String("source", source),
		observability.String("reason", reason),
		observability.Duration("duration", e.blockDuration),
	)
	e.emit(ctx, audit.MutationEvent(now, audit.ActionAutoBlock, audit.OutcomeSuccess, identity).
		WithReason(reason).
		WithMetadata("source", source).
		WithMetadata("durationSeconds", int64(e.blockDuration/time.Second)))
	return true
}

// emit hands event to the sink. A panicking sink loses the event, never the decision.
func (e *Engine) emit(ctx context.Context, event *audit.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("audit sink panicked",
				observability.String("action", string(event.Action)),
				observability.Any("panic", r),
			)
		}
	}()
	e.sink.LogEvent(ctx, event)
}
