package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, capacity int, window time.Duration, opts ...Option) *TokenBucketLimiter {
	t.Helper()
	l, err := NewTokenBucketLimiter(capacity, window, opts...)
	require.NoError(t, err)
	return l
}

func TestNewTokenBucketLimiter_InvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		capacity int
		window   time.Duration
	}{
		{name: "zero capacity", capacity: 0, window: time.Minute},
		{name: "negative capacity", capacity: -1, window: time.Minute},
		{name: "zero window", capacity: 5, window: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewTokenBucketLimiter(tt.capacity, tt.window)
			require.Error(t, err)
			assert.True(t, errors.Is(err, util.ErrConfigInvalid))
		})
	}
}

func TestTokenBucketLimiter_Boundary(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, 5, time.Minute)

	for i := 0; i < 5; i++ {
		res := l.Allow("1.2.3.4", epoch)
		require.True(t, res.Allowed, "request %d", i+1)
		assert.InDelta(t, float64(4-i), res.Remaining, 1e-9)
	}

	res := l.Allow("1.2.3.4", epoch)
	assert.False(t, res.Allowed)
	assert.InDelta(t, 0, res.Remaining, 1e-9)
	assert.Equal(t, 1, res.Violations)
	assert.True(t, res.CeilingCrossed)
	assert.Equal(t, 12*time.Second, res.RetryAfter)

	// Independent identities have independent buckets.
	assert.True(t, l.Allow("4.3.2.1", epoch).Allowed)
}

func TestTokenBucketLimiter_Refill(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, 5, 10*time.Second)

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("a", epoch).Allowed)
	}
	require.False(t, l.Allow("a", epoch).Allowed)

	// 0.5 tokens per second: two seconds restore one token.
	assert.True(t, l.Allow("a", epoch.Add(2*time.Second)).Allowed)
	assert.False(t, l.Allow("a", epoch.Add(2*time.Second)).Allowed)

	// Refill is capped at capacity.
	assert.InDelta(t, 5, l.Remaining("a", epoch.Add(time.Hour)), 1e-9)
}

func TestTokenBucketLimiter_ClockBackwards(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	l := newLimiter(t, 2, 10*time.Second, WithLogger(observability.NewZapLogger(zap.New(core))))

	require.True(t, l.Allow("a", epoch.Add(time.Minute)).Allowed)

	// Going back grants nothing and loses nothing.
	res := l.Allow("a", epoch)
	require.True(t, res.Allowed)
	assert.InDelta(t, 0, res.Remaining, 1e-9)
	assert.False(t, l.Allow("a", epoch).Allowed)

	assert.GreaterOrEqual(t, logs.FilterMessage("clock moved backwards, clamping elapsed time to zero").Len(), 1)
}

func TestTokenBucketLimiter_ViolationCeiling(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, 1, 10*time.Second, WithViolationCeiling(3))
	require.True(t, l.Allow("a", epoch).Allowed)

	r1 := l.Allow("a", epoch)
	r2 := l.Allow("a", epoch)
	r3 := l.Allow("a", epoch)
	assert.False(t, r1.CeilingCrossed)
	assert.False(t, r2.CeilingCrossed)
	assert.True(t, r3.CeilingCrossed)
	assert.Equal(t, 3, r3.Violations)

	// A new period starts once the window has elapsed since the first violation.
	later := epoch.Add(10 * time.Second)
	require.True(t, l.Allow("a", later).Allowed)
	res := l.Allow("a", later)
	assert.Equal(t, 1, res.Violations)
	assert.False(t, res.CeilingCrossed)
}

func TestTokenBucketLimiter_ResetAndReap(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, 1, time.Minute)
	require.True(t, l.Allow("a", epoch).Allowed)
	require.False(t, l.Allow("a", epoch).Allowed)

	l.Reset("a")
	assert.True(t, l.Allow("a", epoch).Allowed)

	l.Allow("b", epoch.Add(time.Minute))
	assert.Equal(t, 2, l.Stats().ActiveBuckets)
	assert.Equal(t, 1, l.Reap(epoch.Add(30*time.Second)))
	assert.Equal(t, 1, l.Stats().ActiveBuckets)

	l.ResetAll()
	stats := l.Stats()
	assert.Equal(t, 0, stats.ActiveBuckets)
	assert.Equal(t, int64(0), stats.TotalAllowed)
	assert.Equal(t, int64(0), stats.TotalDenied)
}

func TestTokenBucketLimiter_Stats(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, 100, time.Minute, WithShards(4))
	l.Allow("a", epoch)
	l.Allow("b", epoch)

	stats := l.Stats()
	assert.Equal(t, 2, stats.ActiveBuckets)
	assert.Equal(t, int64(2), stats.TotalAllowed)
	assert.Equal(t, 100, stats.Capacity)
	assert.InDelta(t, 100.0/60.0, stats.RefillRate, 1e-9)
	assert.InDelta(t, 60, stats.TimeWindow, 1e-9)
	assert.Equal(t, 1, stats.ViolationCeiling)
	assert.Equal(t, 100, l.Capacity())
	assert.InDelta(t, 100, l.Remaining("unknown", epoch), 1e-9)
}

func TestTokenBucketLimiter_TokensStayInRange(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, 3, 3*time.Second)
	now := epoch
	steps := []time.Duration{0, 0, 500 * time.Millisecond, -2 * time.Second, 5 * time.Second, 0, 0, 0, 0, 100 * time.Millisecond}

	for i := 0; i < 200; i++ {
		now = now.Add(steps[i%len(steps)])
		res := l.Allow("a", now)
		require.GreaterOrEqual(t, res.Remaining, 0.0)
		require.LessOrEqual(t, res.Remaining, 3.0)
	}
}

func TestTokenBucketLimiter_ConcurrentSameIdentity(t *testing.T) {
	t.Parallel()

	l := newLimiter(t, 100, time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if l.Allow("shared", epoch).Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
	assert.Equal(t, int64(400), l.Stats().TotalDenied)
}

func BenchmarkTokenBucketLimiter_Allow(b *testing.B) {
	l, _ := NewTokenBucketLimiter(1000, time.Second)
	ids := make([]string, 1024)
	for i := range ids {
		ids[i] = fmt.Sprintf("10.0.%d.%d", i/256, i%256)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			l.Allow(ids[i%len(ids)], time.Now())
			i++
		}
	})
}
