package mitigation

import (
	"context"
	"time"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// ReapResult counts what one housekeeping pass removed.
type ReapResult struct {
	Buckets       int
	Windows       int
	ExpiredBlocks int
}

// Start runs the idle reaper until ctx is done or Close is called.
// Repeated calls are no-ops.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.stopped = make(chan struct{})

	go e.reapLoop(ctx, e.cfg.EffectiveReapInterval())
}

func (e *Engine) reapLoop(ctx context.Context, interval time.Duration) {
	defer close(e.stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Reap()
		case <-ctx.Done():
			return
		}
	}
}

// Reap evicts per-identity limiter and monitor state idle for longer than
// the idle timeout, drops expired blocks and refreshes the tracked
// identity gauges.
func (e *Engine) Reap() ReapResult {
	now := e.clock()
	cutoff := now.Add(-e.cfg.EffectiveIdleTimeout())

	res := ReapResult{
		Buckets:       e.limiter.Reap(cutoff),
		Windows:       e.monitor.Reap(cutoff),
		ExpiredBlocks: e.access.Sweep(now),
	}

	e.metrics.RecordReaped(observability.ComponentRateLimiter, res.Buckets)
	e.metrics.RecordReaped(observability.ComponentMonitor, res.Windows)
	e.metrics.RecordReaped(observability.ComponentAccessFilter, res.ExpiredBlocks)

	e.metrics.SetTrackedIdentities(observability.ComponentRateLimiter, e.limiter.Stats().ActiveBuckets)
	e.metrics.SetTrackedIdentities(observability.ComponentMonitor, e.monitor.Len())
	e.metrics.SetTrackedIdentities(observability.ComponentAccessFilter, e.access.Len())

	if res.Buckets > 0 || res.Windows > 0 || res.ExpiredBlocks > 0 {
		e.logger.Debug("reaped idle identities",
			observability.Int("buckets", res.Buckets),
			observability.Int("windows", res.Windows),
			observability.Int("expired_blocks", res.ExpiredBlocks),
		)
	}
	return res
}

// Close stops the reaper and waits for it to exit. The audit sink is
// owned by the caller and stays open. Safe to call multiple times.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel, stopped := e.cancel, e.stopped
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}
	return nil
}
