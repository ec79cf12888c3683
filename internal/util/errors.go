package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrInternalFault   = errors.New("internal fault")
)

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// ValidationError represents a rejected argument to a mutation call.
type ValidationError struct {
	Fields  map[string]string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s (fields: %v)", e.Message, e.Fields)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidInput {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok || errors.Is(e.Cause, target)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string]string)}
}

// NewValidationErrorWithCause creates a new ValidationError wrapping a sentinel.
func NewValidationErrorWithCause(field, message string, cause error) *ValidationError {
	return &ValidationError{
		Message: message,
		Fields:  map[string]string{field: message},
		Cause:   cause,
	}
}

// AddField adds a field error.
func (e *ValidationError) AddField(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// FaultError describes a recovered internal fault during evaluation.
type FaultError struct {
	Operation string
	Value     interface{}
	At        time.Time
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	return fmt.Sprintf("internal fault during %s: %v", e.Operation, e.Value)
}

// Is checks if the error matches the target.
func (e *FaultError) Is(target error) bool {
	if target == ErrInternalFault {
		return true
	}
	_, ok := target.(*FaultError)
	return ok
}

// NewFaultError creates a new FaultError.
func NewFaultError(operation string, value interface{}, at time.Time) *FaultError {
	return &FaultError{Operation: operation, Value: value, At: at}
}

// IsValidationError returns true if err is a rejected mutation argument.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConfigError returns true if err came from configuration validation.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
