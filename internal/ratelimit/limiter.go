// Package ratelimit provides the per-identity token bucket used by the
// admission engine. The limiter only classifies; it never sleeps or queues.
package ratelimit

import (
	"time"

	"github.com/vyrodovalexey/avaguard/internal/observability"
)

// Result represents the result of a rate limit check.
type Result struct {
	// Allowed indicates whether a token was consumed.
	Allowed bool

	// Remaining is the number of tokens left after the call, in [0, capacity].
	Remaining float64

	// RetryAfter is the time until one token is available (zero when allowed).
	RetryAfter time.Duration

	// Violations is the number of denials in the current evaluation period.
	Violations int

	// CeilingCrossed reports that Violations reached the configured ceiling.
	CeilingCrossed bool
}

// Stats is a snapshot of limiter counters.
type Stats struct {
	ActiveBuckets    int     `json:"activeBuckets"`
	TotalAllowed     int64   `json:"totalAllowed"`
	TotalDenied      int64   `json:"totalDenied"`
	Capacity         int     `json:"capacity"`
	RefillRate       float64 `json:"refillRate"`
	TimeWindow       float64 `json:"timeWindowSeconds"`
	ViolationCeiling int     `json:"violationCeiling"`
}

// Option is a functional option for the limiter.
type Option func(*TokenBucketLimiter)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *TokenBucketLimiter) {
		l.logger = logger
	}
}

// WithShards sets the number of lock stripes.
func WithShards(n int) Option {
	return func(l *TokenBucketLimiter) {
		l.shards = n
	}
}

// WithViolationCeiling sets the number of denials within one window that
// marks CeilingCrossed.
func WithViolationCeiling(n int) Option {
	return func(l *TokenBucketLimiter) {
		l.ceiling = n
	}
}
