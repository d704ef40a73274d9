// Package domainerrors defines the coded error type shared by services and
// transports. Services return these codes; transports map them to status codes.
//
// Stores do not use this package. They return pkg/platform/sentinel errors and
// the owning service translates them.
package domainerrors

import (
	"errors"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation is bad caller input. No state was changed.
	CodeValidation Code = "validation"
	// CodeBadRequest is a malformed transport request (unparseable body, bad path value).
	CodeBadRequest Code = "bad_request"
	// CodeStorage is a durability layer failure. The partial state is recorded as failed.
	CodeStorage Code = "storage_error"
	// CodeExternalService is a transcription provider failure after the retry budget.
	CodeExternalService Code = "external_service_error"
	// CodeInvalidScore is a confidence score outside [0,1] returned by the provider.
	CodeInvalidScore Code = "invalid_score"
	// CodeForbidden is a role mismatch.
	CodeForbidden Code = "forbidden"
	// CodeUnauthorized is a missing or invalid actor identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeStaleState is an optimistic-concurrency conflict: the entity is no
	// longer in the state the caller expected.
	CodeStaleState Code = "stale_state"
	// CodeNotFound is a missing entity.
	CodeNotFound Code = "not_found"
	// CodeConflict is a uniqueness or duplicate-submission conflict.
	CodeConflict Code = "conflict"
	// CodeInvariantViolation is raised by aggregates when a transition would
	// break one of their invariants.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeRateLimited is a caller over its request budget.
	CodeRateLimited Code = "rate_limited"
	// CodeTimeout is an operation that exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeInternal is anything else.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error. Message is safe to show callers for every
// code except CodeInternal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error. A nil err still
// produces an error so call sites can wrap unconditionally.
func Wrap(err error, code Code, msg string) error {
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether the outermost domain error in err's chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in err's chain, or CodeInternal when err
// carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-facing message of the outermost domain error.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// IsDomain reports whether err's chain contains a coded domain error.
func IsDomain(err error) bool {
	var de *Error
	return errors.As(err, &de)
}
