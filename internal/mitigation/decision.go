package mitigation

import (
	"time"
)

// Decision reasons.
const (
	ReasonWhitelisted        = "whitelisted"
	ReasonBlacklisted        = "blacklisted"
	ReasonTemporarilyBlocked = "temporarily blocked"
	ReasonAutoBlocked        = "temporarily blocked (auto-blocked)"
	ReasonPermanentlyBlocked = "permanently blocked"
	ReasonRateLimitExceeded  = "rate limit exceeded"
	ReasonAnomalyAutoBlocked = "anomaly detected — auto-blocked"
	ReasonOK                 = "ok"
	ReasonInvalidIdentity    = "invalid identity"
	ReasonFailOpen           = "internal error — fail open"
	ReasonFailClosed         = "internal error — fail closed"
)

// Detail keys.
const (
	DetailIdentity        = "identity"
	DetailEndpoint        = "endpoint"
	DetailMethod          = "method"
	DetailTimestamp       = "timestamp"
	DetailBlockedBy       = "blocked_by"
	DetailRemainingTokens = "remaining_tokens"
	DetailRetryAfter      = "retry_after_seconds"
	DetailRequestRate     = "request_rate"
	DetailSeverity        = "severity"
	DetailViolations      = "violations"
	DetailExpiresAt       = "expires_at"
	DetailAutoBlocked     = "auto_blocked"
	DetailFaultCircuit    = "fault_circuit"
)

// Components that deny a request.
const (
	BlockedByAccessFilter   = "access_filter"
	BlockedByRateLimiter    = "rate_limiter"
	BlockedByTrafficMonitor = "traffic_monitor"
	BlockedByEngine         = "engine"
)

// Decision is the verdict for one request.
type Decision struct {
	Allowed bool                   `json:"allowed"`
	Reason  string                 `json:"reason"`
	Detail  map[string]interface{} `json:"detail"`

	// BlockedBy names the denying component, empty when allowed.
	BlockedBy string `json:"-"`

	// RetryAfter is a hint for clients of denied requests.
	RetryAfter time.Duration `json:"-"`

	at time.Time
}

// Timestamp returns the evaluation time.
func (d Decision) Timestamp() time.Time {
	return d.at
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (d Decision) RetryAfterSeconds() int64 {
	return retryAfterSeconds(d.RetryAfter)
}

func newDecision(identity, endpoint, method string, now time.Time) Decision {
	return Decision{
		Detail: map[string]interface{}{
			DetailIdentity:  identity,
			DetailEndpoint:  endpoint,
			DetailMethod:    method,
			DetailTimestamp: now.UTC().Format(time.RFC3339Nano),
		},
		at: now,
	}
}

func (d *Decision) allow(reason string) {
	d.Allowed = true
	d.Reason = reason
	d.BlockedBy = ""
	delete(d.Detail, DetailBlockedBy)
}

func (d *Decision) deny(reason, blockedBy string, retryAfter time.Duration) {
	d.Allowed = false
	d.Reason = reason
	d.BlockedBy = blockedBy
	d.Detail[DetailBlockedBy] = blockedBy
	if retryAfter > 0 {
		d.RetryAfter = retryAfter
		d.Detail[DetailRetryAfter] = retryAfterSeconds(retryAfter)
	}
}

// retryAfterSeconds rounds up to whole seconds, the resolution of the
// Retry-After header.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
