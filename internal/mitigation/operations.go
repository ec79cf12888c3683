package mitigation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaguard/internal/access"
	"github.com/vyrodovalexey/avaguard/internal/audit"
	"github.com/vyrodovalexey/avaguard/internal/config"
	"github.com/vyrodovalexey/avaguard/internal/monitor"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/ratelimit"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// Stats is a merged snapshot of all components.
type Stats struct {
	RateLimiter    ratelimit.Stats `json:"rateLimiter"`
	TrafficMonitor monitor.Stats   `json:"trafficMonitor"`
	AccessFilter   access.Stats    `json:"accessFilter"`
	Engine         EngineStats     `json:"engine"`
}

// EngineStats holds coordinator counters.
type EngineStats struct {
	TotalDecisions   int64  `json:"totalDecisions"`
	AllowedDecisions int64  `json:"allowedDecisions"`
	DeniedDecisions  int64  `json:"deniedDecisions"`
	AutoBlocks       int64  `json:"autoBlocks"`
	InternalFaults   int64  `json:"internalFaults"`
	BypassedByFault  int64  `json:"bypassedByFault"`
	FaultCircuit     string `json:"faultCircuit"`
	FailureMode      string `json:"failureMode"`
	AutoBlock        bool   `json:"autoBlock"`
	BlockDuration    int64  `json:"blockDurationSeconds"`
}

func (e *Engine) startSpan(ctx context.Context, name, identity string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("avaguard.identity", identity)),
	)
}

func (e *Engine) mutationFailed(ctx context.Context, action audit.Action, identity string, now time.Time, err error) error {
	e.emit(ctx, audit.MutationEvent(now, action, audit.OutcomeFailure, identity).WithReason(err.Error()))
	return err
}

// BlockIP blocks identity. Without options the block is temporary and
// lasts the configured block duration. Blocking a whitelisted identity
// is a no-op.
func (e *Engine) BlockIP(ctx context.Context, identity string, opts ...BlockOption) error {
	ctx, span := e.startSpan(ctx, "avaguard.block", identity)
	defer span.End()

	req := blockRequest{duration: e.blockDuration}
	for _, opt := range opts {
		opt(&req)
	}
	now := e.clock()

	applied, err := e.access.Block(identity, now, access.BlockOptions{
		Duration:  req.duration,
		Permanent: req.permanent,
	})
	if err != nil {
		return e.mutationFailed(ctx, audit.ActionBlock, identity, now, err)
	}

	event := audit.MutationEvent(now, audit.ActionBlock, audit.OutcomeSuccess, identity).
		WithMetadata("permanent", req.permanent)
	if !req.permanent {
		event.WithMetadata("durationSeconds", int64(req.duration/time.Second))
	}

	if !applied {
		event.Outcome = audit.OutcomeIgnored
		e.emit(ctx, event.WithReason("identity is whitelisted"))
		return nil
	}

	source := observability.BlockSourceManual
	if req.permanent {
		source = observability.BlockSourcePermanent
	}
	e.metrics.RecordBlock(source)
	e.logger.Info("identity blocked",
		observability.String("identity", identity),
		observability.Bool("permanent", req.permanent),
		observability.Duration("duration", req.duration),
	)
	e.emit(ctx, event)
	return nil
}

// UnblockIP removes any block on identity and clears its limiter and
// monitor history. List membership is kept. Unblocking an identity that
// is not blocked succeeds.
func (e *Engine) UnblockIP(ctx context.Context, identity string) error {
	ctx, span := e.startSpan(ctx, "avaguard.unblock", identity)
	defer span.End()

	now := e.clock()
	removed, err := e.access.Unblock(identity)
	if err != nil {
		return e.mutationFailed(ctx, audit.ActionUnblock, identity, now, err)
	}
	e.limiter.Reset(identity)
	e.monitor.ResetViolations(identity)

	outcome := audit.OutcomeSuccess
	if !removed {
		outcome = audit.OutcomeIgnored
	}
	e.logger.Info("identity unblocked",
		observability.String("identity", identity),
		observability.Bool("was_blocked", removed),
	)
	e.emit(ctx, audit.MutationEvent(now, audit.ActionUnblock, outcome, identity))
	return nil
}

// WhitelistIP marks identity as always allowed, removing blocks and
// blacklist membership.
func (e *Engine) WhitelistIP(ctx context.Context, identity string) error {
	ctx, span := e.startSpan(ctx, "avaguard.whitelist", identity)
	defer span.End()

	now := e.clock()
	if err := e.access.Whitelist(identity); err != nil {
		return e.mutationFailed(ctx, audit.ActionWhitelist, identity, now, err)
	}
	e.logger.Info("identity whitelisted", observability.String("identity", identity))
	e.emit(ctx, audit.MutationEvent(now, audit.ActionWhitelist, audit.OutcomeSuccess, identity))
	return nil
}

// BlacklistIP marks identity as always denied. A whitelisted identity
// stays allowed.
func (e *Engine) BlacklistIP(ctx context.Context, identity string) error {
	ctx, span := e.startSpan(ctx, "avaguard.blacklist", identity)
	defer span.End()

	now := e.clock()
	if err := e.access.Blacklist(identity); err != nil {
		return e.mutationFailed(ctx, audit.ActionBlacklist, identity, now, err)
	}
	e.logger.Info("identity blacklisted", observability.String("identity", identity))
	e.emit(ctx, audit.MutationEvent(now, audit.ActionBlacklist, audit.OutcomeSuccess, identity))
	return nil
}

// RemoveFromBlacklist drops blacklist membership of identity.
func (e *Engine) RemoveFromBlacklist(ctx context.Context, identity string) error {
	ctx, span := e.startSpan(ctx, "avaguard.remove_from_blacklist", identity)
	defer span.End()

	now := e.clock()
	if err := e.access.RemoveFromBlacklist(identity); err != nil {
		return e.mutationFailed(ctx, audit.ActionRemoveFromBlacklist, identity, now, err)
	}
	e.logger.Info("identity removed from blacklist", observability.String("identity", identity))
	e.emit(ctx, audit.MutationEvent(now, audit.ActionRemoveFromBlacklist, audit.OutcomeSuccess, identity))
	return nil
}

// Reset clears buckets, activity windows, alerts and temporary blocks.
// Lists and permanent blocks are kept.
func (e *Engine) Reset(ctx context.Context) {
	ctx, span := e.tracer.Start(ctx, "avaguard.reset")
	defer span.End()

	e.limiter.ResetAll()
	e.monitor.Reset()
	e.access.Reset()

	e.logger.Info("engine state reset")
	e.emit(ctx, audit.NewEvent(audit.EventTypeMutation, audit.ActionReset, audit.OutcomeSuccess, e.clock()))
}

// RecentAlerts returns up to limit alerts, newest first.
func (e *Engine) RecentAlerts(limit int) []monitor.Alert {
	return e.monitor.RecentAlerts(limit)
}

// Status returns the access state of identity.
func (e *Engine) Status(identity string) (access.Status, error) {
	if err := util.ValidateIdentity(identity); err != nil {
		return access.Status{}, err
	}
	return e.access.Status(identity, e.clock()), nil
}

// Stats returns a merged snapshot of all components.
func (e *Engine) Stats() Stats {
	now := e.clock()

	mode := config.FailOpen
	if !e.failOpen {
		mode = config.FailClosed
	}

	return Stats{
		RateLimiter:    e.limiter.Stats(),
		TrafficMonitor: e.monitor.Stats(now),
		AccessFilter:   e.access.Stats(now),
		Engine: EngineStats{
			TotalDecisions:   e.counters.decisions.Load(),
			AllowedDecisions: e.counters.allowed.Load(),
			DeniedDecisions:  e.counters.denied.Load(),
			AutoBlocks:       e.counters.autoBlocks.Load(),
			InternalFaults:   e.counters.faults.Load(),
			BypassedByFault:  e.counters.bypassed.Load(),
			FaultCircuit:     e.breaker.State().String(),
			FailureMode:      string(mode),
			AutoBlock:        e.autoBlock,
			BlockDuration:    int64(e.blockDuration / time.Second),
		},
	}
}
