// Package util provides shared error types and input validation for the
// admission engine.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrInvalidIdentity.
//   - Structured error types for context-rich errors that carry
//     additional fields (ConfigError, ValidationError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// ConfigError is only produced while constructing components from a
// configuration value. ValidationError is returned synchronously by
// mutation calls (block, unblock, whitelist) and guarantees that no state
// was changed.
//
// # Validation
//
//	if err := util.ValidateIdentity("10.0.0.1"); err != nil {
//	    return err
//	}
package util
