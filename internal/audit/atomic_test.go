package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicSink_NilBecomesNoop(t *testing.T) {
	t.Parallel()

	a := NewAtomicSink(nil)
	require.NotNil(t, a.Load())
	assert.NotPanics(t, func() {
		a.LogEvent(context.Background(), MutationEvent(testTS, ActionBlock, OutcomeSuccess, "a"))
	})
	assert.NoError(t, a.Close())
}

func TestAtomicSink_Swap(t *testing.T) {
	t.Parallel()

	first := &recordingSink{}
	second := &recordingSink{}
	a := NewAtomicSink(first)

	a.LogEvent(context.Background(), MutationEvent(testTS, ActionBlock, OutcomeSuccess, "a"))

	old := a.Swap(second)
	assert.Same(t, first, old)

	a.LogEvent(context.Background(), MutationEvent(testTS, ActionUnblock, OutcomeSuccess, "a"))

	assert.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, ActionUnblock, second.events[0].Action)

	old = a.Swap(nil)
	assert.Same(t, second, old)
	assert.NotNil(t, a.Load())
}

func TestAtomicSink_ConcurrentSwap(t *testing.T) {
	t.Parallel()

	a := NewAtomicSink(NewNoopSink())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.LogEvent(context.Background(), MutationEvent(testTS, ActionBlock, OutcomeSuccess, "a"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Swap(NewNoopSink())
			}
		}()
	}
	wg.Wait()
}
