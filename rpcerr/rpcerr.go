package rpcerr

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers of the transport core.
type Code string

const (
	// CodeValidation indicates malformed input. Validation errors never
	// mutate component state.
	CodeValidation Code = "VALIDATION_ERROR"

	// CodeRateLimited indicates an exhausted rate limiter, an open or
	// probe-saturated circuit, or a saturated pool/queue.
	CodeRateLimited Code = "RATE_LIMITED"

	// CodeTimeout indicates an attempt, global deadline, or decision
	// exceeded its time budget.
	CodeTimeout Code = "TIMEOUT"

	// CodeDependencyUnavailable indicates no endpoint passed selection.
	CodeDependencyUnavailable Code = "DEPENDENCY_UNAVAILABLE"

	// CodeNotFound indicates the upstream reported an unknown method.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict indicates a retry would unsafely duplicate a
	// non-idempotent effect.
	CodeConflict Code = "CONFLICT"

	// CodeInvariantBreach indicates internal state became inconsistent.
	// Always a defect; surfaced, never swallowed.
	CodeInvariantBreach Code = "INVARIANT_BREACH"

	// CodeInternal indicates an unexpected failure.
	CodeInternal Code = "INTERNAL"
)

// Error is a coded error carried across the transport core's boundaries.
// The message is human-readable and must not leak stack traces or
// internal identifiers.
type Error struct {
	Code    Code
	Message string

	cause error
}

// New creates a coded error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error that preserves cause for errors.Is/As while
// exposing only the given message to callers.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap exposes the cause chain.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches errors by code, so callers can compare against a bare
// &Error{Code: ...} sentinel.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// CodeOf extracts the code from err. Unclassified errors map to
// CodeInternal; nil maps to the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
