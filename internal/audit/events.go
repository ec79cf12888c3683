package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeDecision      EventType = "decision"
	EventTypeMutation      EventType = "mutation"
	EventTypeAlert         EventType = "alert"
	EventTypeFault         EventType = "fault"
	EventTypeConfiguration EventType = "configuration"
)

// Action represents the action being audited.
type Action string

// Actions.
const (
	ActionAdmit               Action = "admit"
	ActionBlock               Action = "block"
	ActionAutoBlock           Action = "auto_block"
	ActionUnblock             Action = "unblock"
	ActionWhitelist           Action = "whitelist"
	ActionBlacklist           Action = "blacklist"
	ActionRemoveFromBlacklist Action = "remove_from_blacklist"
	ActionReset               Action = "reset"
	ActionSuspiciousActivity  Action = "suspicious_activity"
	ActionInternalFault       Action = "internal_fault"
	ActionConfigReload        Action = "config_reload"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeSuccess Outcome = "success"
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailure Outcome = "failure"
)

// Event represents an audit event.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Action is the action being audited.
	Action Action `json:"action"`

	// Outcome is the outcome of the action.
	Outcome Outcome `json:"outcome"`

	// Level is the audit level.
	Level Level `json:"level"`

	// Identity is the source the event is about.
	Identity string `json:"identity,omitempty"`

	// Endpoint and Method describe the request, when there is one.
	Endpoint string `json:"endpoint,omitempty"`
	Method   string `json:"method,omitempty"`

	// Reason is the human readable cause.
	Reason string `json:"reason,omitempty"`

	// Metadata contains additional details.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// TraceID is the trace ID for distributed tracing.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID is the span ID for distributed tracing.
	SpanID string `json:"span_id,omitempty"`

	// Duration is how long the action took.
	Duration time.Duration `json:"duration,omitempty"`
}

// NewEvent creates a new audit event at ts.
func NewEvent(eventType EventType, action Action, outcome Outcome, ts time.Time) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: ts.UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
		Level:     LevelInfo,
	}
}

// WithIdentity sets the identity.
func (e *Event) WithIdentity(identity string) *Event {
	e.Identity = identity
	return e
}

// WithRequest sets the endpoint and method.
func (e *Event) WithRequest(endpoint, method string) *Event {
	e.Endpoint = endpoint
	e.Method = method
	return e
}

// WithReason sets the reason.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithMetadata adds metadata to the event.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDuration sets the duration.
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.Duration = duration
	return e
}

// WithLevel sets the audit level.
func (e *Event) WithLevel(level Level) *Event {
	e.Level = level
	return e
}

// DecisionEvent creates the event of one admission decision. Allowed
// decisions are debug level so default sinks only keep denials.
func DecisionEvent(ts time.Time, identity, endpoint, method string, allowed bool, reason string) *Event {
	outcome, level := OutcomeDenied, LevelInfo
	if allowed {
		outcome, level = OutcomeAllowed, LevelDebug
	}
	return NewEvent(EventTypeDecision, ActionAdmit, outcome, ts).
		WithIdentity(identity).
		WithRequest(endpoint, method).
		WithReason(reason).
		WithLevel(level)
}

// MutationEvent creates the event of an access list or block change.
func MutationEvent(ts time.Time, action Action, outcome Outcome, identity string) *Event {
	level := LevelInfo
	if action == ActionAutoBlock {
		level = LevelWarn
	}
	return NewEvent(EventTypeMutation, action, outcome, ts).
		WithIdentity(identity).
		WithLevel(level)
}

// AlertEvent creates the event of a traffic alert.
func AlertEvent(ts time.Time, identity, endpoint, method, reason string) *Event {
	return NewEvent(EventTypeAlert, ActionSuspiciousActivity, OutcomeSuccess, ts).
		WithIdentity(identity).
		WithRequest(endpoint, method).
		WithReason(reason).
		WithLevel(LevelWarn)
}

// FaultEvent creates the critical event of an evaluation fault.
func FaultEvent(ts time.Time, identity, endpoint, method, reason string) *Event {
	return NewEvent(EventTypeFault, ActionInternalFault, OutcomeFailure, ts).
		WithIdentity(identity).
		WithRequest(endpoint, method).
		WithReason(reason).
		WithLevel(LevelCritical)
}
