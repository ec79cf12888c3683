package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vyrodovalexey/avaguard/internal/mitigation"
	"github.com/vyrodovalexey/avaguard/internal/observability"
	"github.com/vyrodovalexey/avaguard/internal/util"
)

// AdmissionOption configures the Admission middleware.
type AdmissionOption func(*admission)

// WithIPExtractor sets how the client identity is resolved. The default
// trusts no forwarding headers.
func WithIPExtractor(e *ClientIPExtractor) AdmissionOption {
	return func(a *admission) {
		if e != nil {
			a.extractor = e
		}
	}
}

// WithAdmissionLogger sets the logger used for denied requests.
func WithAdmissionLogger(logger observability.Logger) AdmissionOption {
	return func(a *admission) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAdmissionMetrics sets the collectors that count rejections.
func WithAdmissionMetrics(m *Metrics) AdmissionOption {
	return func(a *admission) {
		a.metrics = m
	}
}

type admission struct {
	admitter  mitigation.Admitter
	extractor *ClientIPExtractor
	logger    observability.Logger
	metrics   *Metrics
}

// deniedResponse is the JSON body of a rejected request.
type deniedResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason"`
	BlockedBy  string `json:"blocked_by,omitempty"`
	RetryAfter int64  `json:"retry_after_seconds,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Admission returns a middleware that asks admitter about every request
// before passing it on. The identity is the client IP, the endpoint the
// URL path. Denials never reach next.
func Admission(admitter mitigation.Admitter, opts ...AdmissionOption) func(http.Handler) http.Handler {
	a := &admission{
		admitter:  admitter,
		extractor: NewClientIPExtractor(nil),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(observability.String("component", "admission"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := a.extractor.Extract(r)
			setLoggedIdentity(r, identity)

			decision := a.admitter.Admit(r.Context(), identity, r.URL.Path, r.Method)
			if decision.Allowed {
				next.ServeHTTP(w, r.WithContext(util.ContextWithIdentity(r.Context(), identity)))
				return
			}

			a.reject(w, r, decision)
		})
	}
}

func (a *admission) reject(w http.ResponseWriter, r *http.Request, d mitigation.Decision) {
	status := StatusForDecision(d)
	a.metrics.recordRejected(status, d.BlockedBy)

	body := deniedResponse{
		Error:     http.StatusText(status),
		Reason:    d.Reason,
		BlockedBy: d.BlockedBy,
		RequestID: util.RequestIDFromContext(r.Context()),
	}
	if secs := d.RetryAfterSeconds(); secs > 0 {
		body.RetryAfter = secs
		w.Header().Set(HeaderRetryAfter, strconv.FormatInt(secs, 10))
	}
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.Header().Set(HeaderXAdmissionBlockedBy, d.BlockedBy)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Debug("failed to write denial body", observability.Error(err))
	}
}

// StatusForDecision maps a denied decision to an HTTP status: 403 for the
// access filter and invalid identities, 429 for the rate limiter and the
// traffic monitor, 503 when the engine failed closed. Allowed decisions
// map to 200.
func StatusForDecision(d mitigation.Decision) int {
	if d.Allowed {
		return http.StatusOK
	}
	switch d.BlockedBy {
	case mitigation.BlockedByRateLimiter, mitigation.BlockedByTrafficMonitor:
		return http.StatusTooManyRequests
	case mitigation.BlockedByEngine:
		if d.Reason == mitigation.ReasonFailClosed {
			return http.StatusServiceUnavailable
		}
		return http.StatusForbidden
	default:
		return http.StatusForbidden
	}
}
