package ratelimit

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avaguard/internal/arena"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// TokenBucketLimiter implements a lazily refilled token bucket per identity.
// Capacity is the maximum number of requests per window and the bucket
// refills continuously at capacity/window tokens per second.
type TokenBucketLimiter struct {
	capacity int
	window   time.Duration
	limit    rate.Limit
	ceiling  int
	shards   int
	logger   observability.Logger

	buckets *arena.Store[*bucket]

	allowed atomic.Int64
	denied  atomic.Int64
}

// bucket is the state of one identity. It is only touched under its arena shard lock.
type bucket struct {
	lim         *rate.Limiter
	lastRefill  time.Time
	violations  int
	periodStart time.Time
}

// NewTokenBucketLimiter creates a limiter. A non-positive capacity or
// window is a configuration error.
func NewTokenBucketLimiter(capacity int, window time.Duration, opts ...Option) (*TokenBucketLimiter, error) {
	if capacity <= 0 {
		return nil, util.NewConfigError("rateLimiting.maxRequestsPerWindow",
			fmt.Sprintf("must be positive, got: %d", capacity))
	}
	if window <= 0 {
		return nil, util.NewConfigError("rateLimiting.timeWindow",
			fmt.Sprintf("must be positive, got: %v", window))
	}

	l := &TokenBucketLimiter{
		capacity: capacity,
		window:   window,
		limit:    rate.Limit(float64(capacity) / window.Seconds()),
		ceiling:  1,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ceiling <= 0 {
		l.ceiling = 1
	}
	l.buckets = arena.New[*bucket](l.shards)

	return l, nil
}

func (l *TokenBucketLimiter) newBucket(now time.Time) func() *bucket {
	return func() *bucket {
		lim := rate.NewLimiter(l.limit, l.capacity)
		// A fresh limiter is full; pin its clock to now.
		lim.SetBurstAt(now, l.capacity)
		return &bucket{lim: lim, lastRefill: now}
	}
}

// Allow consumes one token for identity at now.
func (l *TokenBucketLimiter) Allow(identity string, now time.Time) Result {
	var res Result
	l.buckets.Upsert(identity, now, l.newBucket(now), func(b *bucket, _ bool) {
		res = l.allowLocked(identity, b, now)
	})

	if res.Allowed {
		l.allowed.Add(1)
	} else {
		l.denied.Add(1)
	}
	return res
}

func (l *TokenBucketLimiter) allowLocked(identity string, b *bucket, now time.Time) Result {
	if now.Before(b.lastRefill) {
		l.logger.Warn("clock moved backwards, clamping elapsed time to zero",
			observability.String("identity", identity),
			observability.Duration("skew", b.lastRefill.Sub(now)),
		)
		now = b.lastRefill
	}
	b.lastRefill = now

	if b.violations > 0 && now.Sub(b.periodStart) >= l.window {
		b.violations = 0
	}

	if b.lim.AllowN(now, 1) {
		return Result{
			Allowed:    true,
			Remaining:  l.clamp(b.lim.TokensAt(now)),
			Violations: b.violations,
		}
	}

	if b.violations == 0 {
		b.periodStart = now
	}
	b.violations++

	remaining := l.clamp(b.lim.TokensAt(now))
	return Result{
		Allowed:        false,
		Remaining:      remaining,
		RetryAfter:     l.retryAfter(remaining),
		Violations:     b.violations,
		CeilingCrossed: b.violations >= l.ceiling,
	}
}

func (l *TokenBucketLimiter) clamp(tokens float64) float64 {
	return math.Max(0, math.Min(tokens, float64(l.capacity)))
}

func (l *TokenBucketLimiter) retryAfter(remaining float64) time.Duration {
	missing := 1 - remaining
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / float64(l.limit) * float64(time.Second)).Round(time.Millisecond)
}

// Remaining returns the tokens identity would have at now without consuming
// any. Unknown identities have a full bucket.
func (l *TokenBucketLimiter) Remaining(identity string, now time.Time) float64 {
	remaining := float64(l.capacity)
	l.buckets.View(identity, func(b *bucket) {
		if now.Before(b.lastRefill) {
			now = b.lastRefill
		}
		remaining = l.clamp(b.lim.TokensAt(now))
	})
	return remaining
}

// Reset discards the state of identity, restoring a full bucket.
func (l *TokenBucketLimiter) Reset(identity string) {
	l.buckets.Delete(identity)
}

// ResetAll discards every bucket and the counters.
func (l *TokenBucketLimiter) ResetAll() {
	l.buckets.Clear()
	l.allowed.Store(0)
	l.denied.Store(0)
}

// Reap evicts buckets untouched since before cutoff.
func (l *TokenBucketLimiter) Reap(cutoff time.Time) int {
	return l.buckets.Reap(cutoff, nil)
}

// Capacity returns the bucket capacity.
func (l *TokenBucketLimiter) Capacity() int {
	return l.capacity
}

// Stats returns a snapshot of the limiter counters.
func (l *TokenBucketLimiter) Stats() Stats {
	return Stats{
		ActiveBuckets:    l.buckets.Len(),
		TotalAllowed:     l.allowed.Load(),
		TotalDenied:      l.denied.Load(),
		Capacity:         l.capacity,
		RefillRate:       float64(l.limit),
		TimeWindow:       l.window.Seconds(),
		ViolationCeiling: l.ceiling,
	}
}
