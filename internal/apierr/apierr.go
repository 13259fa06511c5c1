// Package apierr defines the closed set of errors that the HTTP layer knows how
// to translate into a response. Anything else is reported as an internal error.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of client-visible failure.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindRateLimited
	KindCsrfRejected
	KindPayloadTooLarge
	KindValidation
	KindNotFound
	KindConflict
	KindInvalidCredentials
	KindUnavailable
	KindUnsupportedMediaType
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindCsrfRejected:
		return "csrf_rejected"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUnavailable:
		return "unavailable"
	case KindUnsupportedMediaType:
		return "unsupported_media_type"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindUnauthenticated, KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindForbidden, KindCsrfRejected:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// defaultCode is the machine readable code used when an Error carries none.
func (k Kind) defaultCode() string {
	switch k {
	case KindUnauthenticated:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindCsrfRejected:
		return "CSRF_TOKEN_INVALID"
	case KindPayloadTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case KindUnavailable:
		return "SERVICE_UNAVAILABLE"
	case KindUnsupportedMediaType:
		return "UNSUPPORTED_MEDIA_TYPE"
	default:
		return "INTERNAL_ERROR"
	}
}

// Error is a client-visible failure. Code and Message are returned to the
// caller verbatim, so they must never contain internal detail.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details []string

	// RetryAfter is set for KindRateLimited, in whole seconds.
	RetryAfter int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	return e.Kind.Status()
}

// New returns an Error of the given kind with the kind's default code.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: kind.defaultCode(), Message: message}
}

// WithCode returns an Error with an explicit machine readable code.
func WithCode(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Unauthenticated reports a missing or unusable session. The message never says why.
func Unauthenticated() *Error {
	return New(KindUnauthenticated, "Authentication required")
}

// Forbidden reports an identity that fails a role or status precondition.
func Forbidden(message string) *Error {
	if message == "" {
		message = "Access denied"
	}
	return New(KindForbidden, message)
}

// RateLimited reports a denied request; retryAfter is sent as the Retry-After header.
func RateLimited(retryAfter int) *Error {
	err := New(KindRateLimited, "Too many requests")
	err.RetryAfter = retryAfter
	return err
}

// CsrfRejected reports a failed cross-site request check.
func CsrfRejected() *Error {
	return New(KindCsrfRejected, "Invalid CSRF token")
}

// PayloadTooLarge reports a request body over the configured ceiling.
func PayloadTooLarge() *Error {
	return New(KindPayloadTooLarge, "Request payload exceeds allowed size")
}

// Validation reports invalid input, with one detail per failed field rule.
func Validation(message string, details ...string) *Error {
	err := New(KindValidation, message)
	err.Details = details
	return err
}

// NotFound reports a missing resource. An empty message uses a generic one.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return New(KindNotFound, message)
}

// Conflict reports a uniqueness violation such as a duplicate email.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// UnsupportedMediaType reports an upload or file whose type is not accepted.
func UnsupportedMediaType(message string) *Error {
	return New(KindUnsupportedMediaType, message)
}

// Internal is the generic failure returned in place of unexpected errors.
func Internal() *Error {
	return New(KindInternal, "Internal server error")
}

// From returns err as an *Error, or an internal error when err is of any other type.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal()
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
