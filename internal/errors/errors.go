// Package errors provides the unified error type used across all layers.
// Handlers map the error kind to an HTTP status; pipelines inspect kind and
// retryability to decide between degrading and failing.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindNotFound    Kind = "NOT_FOUND"
	KindConflict    Kind = "CONFLICT"
	KindForbidden   Kind = "FORBIDDEN"
	KindTimeout     Kind = "TIMEOUT"
	KindUnavailable Kind = "UNAVAILABLE"
	KindOverloaded  Kind = "OVERLOADED"
	KindInternal    Kind = "INTERNAL"
)

// Error is the single error type crossing component boundaries. Code is a
// stable machine-readable identifier (usually an issue code); Message is for
// humans; Cause preserves the chain for errors.Is/As.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an error of the given kind and code.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a new error of the given kind and code.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Validation builds a request/policy validation fault.
func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// NotFound builds a missing-resource fault.
func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// Conflict builds a state-conflict fault (e.g. lease lost, dup slug).
func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// Forbidden builds an ACL fault.
func Forbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

// Timeout builds a deadline fault; timeouts are retryable by default.
func Timeout(code, message string, cause error) *Error {
	return &Error{Kind: KindTimeout, Code: code, Message: message, Retryable: true, Cause: cause}
}

// Unavailable builds an external-dependency fault; retryable by default.
func Unavailable(code, message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: message, Retryable: true, Cause: cause}
}

// Overloaded builds an admission-control rejection; retryable since load is
// transient.
func Overloaded(code, message string) *Error {
	return &Error{Kind: KindOverloaded, Code: code, Message: message, Retryable: true}
}

// Internal builds an unexpected fault.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL", Message: message, Cause: cause}
}

// AsError extracts an *Error from err's chain, or wraps err as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err.Error(), err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsRetryable reports whether the chain indicates a transient fault.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf returns the stable code on err, or "INTERNAL" when absent.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "INTERNAL"
}

// HTTPStatus maps an error kind to a response status. Anything unclassified
// is a 500.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindOverloaded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
