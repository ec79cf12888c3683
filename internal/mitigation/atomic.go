package mitigation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vyrodovalexey/avaguard/internal/config"
	"github.com/vyrodovalexey/avaguard/internal/monitor"
	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// Admitter is the admission surface used by transports.
type Admitter interface {
	Admit(ctx context.Context, identity, endpoint, method string) Decision
}

var (
	_ Admitter = (*Engine)(nil)
	_ Admitter = (*AtomicEngine)(nil)
)

// AtomicEngine holds the current Engine behind an atomic pointer. Callers
// keep one AtomicEngine while configuration reloads replace the engine
// behind it.
type AtomicEngine struct {
	current  atomic.Pointer[Engine]
	reloadMu sync.Mutex
}

// NewAtomicEngine wraps engine, which must not be nil.
func NewAtomicEngine(engine *Engine) *AtomicEngine {
	a := &AtomicEngine{}
	a.current.Store(engine)
	return a
}

// Load returns the current engine.
func (a *AtomicEngine) Load() *Engine {
	return a.current.Load()
}

// Swap installs engine and returns the previous one. The caller closes
// the previous engine.
func (a *AtomicEngine) Swap(engine *Engine) *Engine {
	return a.current.Swap(engine)
}

// Admit delegates to the current engine.
func (a *AtomicEngine) Admit(ctx context.Context, identity, endpoint, method string) Decision {
	return a.Load().Admit(ctx, identity, endpoint, method)
}

// Stats delegates to the current engine.
func (a *AtomicEngine) Stats() Stats {
	return a.Load().Stats()
}

// RecentAlerts delegates to the current engine.
func (a *AtomicEngine) RecentAlerts(limit int) []monitor.Alert {
	return a.Load().RecentAlerts(limit)
}

// Reload builds an engine from cfg with the options of the current one and
// swaps it in, starting it first when the current engine is running.
//
// Access state carries over: runtime whitelist and blacklist changes and
// unexpired blocks move to the new engine, and access mutations that
// in-flight calls still make on the old engine are mirrored into it.
// Configured lists come from cfg. Limiter buckets, monitor windows, the
// alert buffer and the decision counters start empty, so RecentAlerts and
// Stats restart after a reload. An invalid cfg leaves the current engine
// in place.
func (a *AtomicEngine) Reload(ctx context.Context, cfg *config.Config) error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	old := a.Load()

	next, err := New(cfg, old.opts...)
	if err != nil {
		old.metrics.RecordConfigReload(false)
		return err
	}

	carried := old.access.HandOff(next.access, old.clock())

	old.mu.Lock()
	running := old.cancel != nil && !old.closed
	old.mu.Unlock()
	if running {
		next.Start(ctx)
	}

	a.Swap(next)
	_ = old.Close()

	next.metrics.RecordConfigReload(true)
	next.logger.Info("engine reconfigured",
		observability.Int("carried_blocks", carried),
		observability.Bool("auto_block", next.autoBlock),
		observability.Int("max_requests_per_window", next.cfg.RateLimiting.MaxRequestsPerWindow),
	)
	return nil
}
