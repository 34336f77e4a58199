// Package errors provides error handling for the facet persistence engine.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrDataCorruption) {
//	    // the stored row shape disagrees with its definition
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for the engine's failure taxonomy.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the class.
var (
	// ErrNotFound indicates a referenced definition or record does not exist.
	// Note that an absent catalog on load is NOT an error: LoadCatalog
	// returns (nil, nil) in that case.
	ErrNotFound = New("not found")

	// ErrValidation indicates a bad argument caught before any I/O:
	// a nil catalog, an unrecognized property/hierarchy type tag, or an
	// aspect definition colliding with an incompatible registered shape.
	ErrValidation = New("validation failed")

	// ErrDataCorruption indicates a stored property-value row whose type
	// discriminator disagrees with its definition's declared type. Fatal,
	// surfaced verbatim, never coerced.
	ErrDataCorruption = New("data corruption")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsValidation checks if an error is or wraps ErrValidation.
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsDataCorruption checks if an error is or wraps ErrDataCorruption.
func IsDataCorruption(err error) bool {
	return err != nil && Is(err, ErrDataCorruption)
}

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewCorruptionError creates a data-corruption error with a formatted message.
func NewCorruptionError(format string, args ...interface{}) error {
	return Wrap(ErrDataCorruption, Newf(format, args...).Error())
}
