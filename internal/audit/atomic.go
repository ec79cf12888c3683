package audit

import (
	"context"
	"sync/atomic"
)

// AtomicSink delegates to a sink that can be replaced at runtime, so
// components holding it keep writing to the current sink after a reload.
type AtomicSink struct {
	current atomic.Pointer[Sink]
}

var _ Sink = (*AtomicSink)(nil)

var defaultNoopSink Sink = noopSink{}

// NewAtomicSink wraps sink. A nil sink is replaced by a noop sink.
func NewAtomicSink(sink Sink) *AtomicSink {
	if sink == nil {
		sink = NewNoopSink()
	}
	a := &AtomicSink{}
	a.current.Store(&sink)
	return a
}

// Swap replaces the inner sink and returns the previous one, which the
// caller must close.
func (a *AtomicSink) Swap(sink Sink) Sink {
	if sink == nil {
		sink = NewNoopSink()
	}
	old := a.current.Swap(&sink)
	if old != nil {
		return *old
	}
	return nil
}

// Load returns the current sink.
func (a *AtomicSink) Load() Sink {
	if ptr := a.current.Load(); ptr != nil {
		return *ptr
	}
	return defaultNoopSink
}

// LogEvent delegates to the current sink.
func (a *AtomicSink) LogEvent(ctx context.Context, event *Event) {
	a.Load().LogEvent(ctx, event)
}

// Close closes the current sink.
func (a *AtomicSink) Close() error {
	return a.Load().Close()
}
