// Package errors provides error handling for the outbound scheduler.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints for operator-facing failures
//
// Usage:
//
//	// Reject a schedule field before it reaches the network
//	return errors.NewValidationError("call_gap %d outside [%d, %d]", gap, lo, hi)
//
//	// Wrap with context
//	if err := client.SubmitBatch(ctx, req); err != nil {
//	    return errors.Wrap(err, "submit batch")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrValidation) {
//	    // show the field message, do not retry
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
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Mark tags an error so Is matches the reference (e.g. a sentinel) without
// changing its message
var Mark = crdb.Mark

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var AssertionFailedf = crdb.AssertionFailedf

// Sentinel errors shared across the scheduler.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrConflict indicates a duplicate submission inside the dedup window
	ErrConflict = New("resource conflict")

	// ErrValidation indicates a schedule field violates its bound
	ErrValidation = New("validation failed")

	// ErrInvalidInput indicates a wall-clock or duration value could not be normalized
	ErrInvalidInput = New("invalid input")

	// ErrTransport indicates a failed exchange with a remote endpoint
	ErrTransport = New("transport error")

	// ErrStaleFire indicates a watcher signal from a superseded arm
	ErrStaleFire = New("stale watch fire")

	// ErrSuperseded indicates a page load overtaken by a newer request
	ErrSuperseded = New("request superseded")

	// ErrBudgetExceeded indicates a submission would exceed a spend limit
	ErrBudgetExceeded = New("budget exceeded")

	// ErrRateLimited indicates too many submissions in the limiter window
	ErrRateLimited = New("rate limited")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsValidationError checks if an error is or wraps ErrValidation
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsInvalidInputError checks if an error is or wraps ErrInvalidInput
func IsInvalidInputError(err error) bool {
	return err != nil && Is(err, ErrInvalidInput)
}

// IsTransportError checks if an error is or wraps ErrTransport
func IsTransportError(err error) bool {
	return err != nil && Is(err, ErrTransport)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewInvalidInputError creates a normalization error with a formatted message
func NewInvalidInputError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidInput, Newf(format, args...).Error())
}

// NewConflictError creates a conflict error with a formatted message
func NewConflictError(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}

// NewServiceUnavailableError creates an unavailable error with a formatted message
func NewServiceUnavailableError(format string, args ...interface{}) error {
	return Wrap(ErrServiceUnavailable, Newf(format, args...).Error())
}
