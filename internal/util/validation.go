package util

import (
	"fmt"
	"time"
	"unicode"
)

// MaxIdentityLength bounds identity keys. IPv6 text forms with zones fit well within it.
const MaxIdentityLength = 255

// ValidateIdentity checks that an identity is a non-empty, printable key
// without whitespace. No address parsing is done: identities are opaque.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return NewValidationErrorWithCause("identity", "identity cannot be empty", ErrInvalidIdentity)
	}

	if len(identity) > MaxIdentityLength {
		return NewValidationErrorWithCause("identity",
			fmt.Sprintf("identity exceeds %d bytes", MaxIdentityLength), ErrInvalidIdentity)
	}

	for _, r := range identity {
		if r == unicode.ReplacementChar || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return NewValidationErrorWithCause("identity",
				fmt.Sprintf("identity contains invalid character %q", r), ErrInvalidIdentity)
		}
	}

	return nil
}

// ValidatePositiveDuration validates an explicitly supplied duration.
func ValidatePositiveDuration(field string, d time.Duration) error {
	if d <= 0 {
		return NewValidationErrorWithCause(field,
			fmt.Sprintf("%s must be positive, got: %v", field, d), ErrInvalidDuration)
	}
	return nil
}
