// Package apperr defines the error taxonomy shared by every service.
// Services return these; the HTTP and GraphQL layers map them to wire
// status codes and the error envelope.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindGone
	KindTooManyRequests
	KindDependency
)

// Error carries a machine-readable code, a human message and optional
// structured details. Internal causes are wrapped, never serialized.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// Field is set for validation errors to name the offending input.
	Field string

	// RetryAfter is set for rate-limit errors.
	RetryAfter time.Duration

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error without changing what the
// client sees.
func (e *Error) WithCause(err error) *Error {
	clone := *e
	clone.cause = err
	return &clone
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation reports a bad input value. field uses dotted-path notation.
func Validation(field, message string) *Error {
	e := newError(KindValidation, "validation_failed", message)
	e.Field = field
	return e
}

// Unauthenticated reports a missing, malformed or expired credential.
func Unauthenticated(code, message string) *Error {
	return newError(KindUnauthenticated, code, message)
}

// Forbidden reports a valid principal lacking permission.
func Forbidden(message string) *Error {
	return newError(KindForbidden, "forbidden", message)
}

// NotFound reports a missing addressable entity.
func NotFound(entity string) *Error {
	return newError(KindNotFound, "not_found", entity+" not found")
}

// Conflict reports a uniqueness or version violation.
func Conflict(code, message string) *Error {
	return newError(KindConflict, code, message)
}

// Gone reports an expired single-use token or invite.
func Gone(message string) *Error {
	return newError(KindGone, "gone", message)
}

// TooManyRequests reports an exhausted quota.
func TooManyRequests(retryAfter time.Duration) *Error {
	e := newError(KindTooManyRequests, "too_many_requests", "rate limit exceeded")
	e.RetryAfter = retryAfter
	return e
}

// Dependency reports an external collaborator failure after retries.
func Dependency(name string, cause error) *Error {
	return newError(KindDependency, "dependency_unavailable", name+" unavailable").WithCause(cause)
}

// Internal wraps a programmer error. The message is generic on the wire.
func Internal(cause error) *Error {
	return newError(KindInternal, "internal", "internal error").WithCause(cause)
}

// KindOf extracts the Kind from any error chain. Unknown errors are
// internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// As returns the *Error in err's chain, or a synthetic internal one.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// IsKind reports whether err's chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}
