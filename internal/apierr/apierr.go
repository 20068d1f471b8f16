// Package apierr defines the typed errors shared by the services, the
// dispatcher, and the CLI. Every failure crossing a package boundary carries a
// Kind with a stable wire identifier; the REST layer translates kinds to HTTP
// status codes in exactly one place.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable failure identifier. The string values are part of the
// external contract (JSON error bodies, CLI output).
type Kind string

const (
	KindAuthenticationFailed     Kind = "AUTHENTICATION_FAILED"
	KindBlockedUser              Kind = "BLOCKED_USER"
	KindTokenRevoked             Kind = "TOKEN_REVOKED"
	KindRateLimited              Kind = "RATE_LIMITED"
	KindNoSuchRoute              Kind = "NO_SUCH_ROUTE"
	KindDenied                   Kind = "DENIED"
	KindInvalidPayload           Kind = "INVALID_PAYLOAD"
	KindRestrictedValue          Kind = "RESTRICTED_VALUE"
	KindUpstreamError            Kind = "UPSTREAM_ERROR"
	KindUpstreamTimeout          Kind = "UPSTREAM_TIMEOUT"
	KindInternalError            Kind = "INTERNAL_ERROR"
	KindNotFound                 Kind = "NOT_FOUND"
	KindAlreadyExists            Kind = "ALREADY_EXISTS"
	KindInvalidState             Kind = "INVALID_STATE"
	KindReferencedEntityMissing  Kind = "REFERENCED_ENTITY_MISSING"
	KindInvalidDescriptor        Kind = "INVALID_DESCRIPTOR"
	KindDependencyMissing        Kind = "DEPENDENCY_MISSING"
	KindMountPointConflict       Kind = "MOUNT_POINT_CONFLICT"
	KindNotInstalled             Kind = "NOT_INSTALLED"
	KindUnsupportedClientVersion Kind = "UNSUPPORTED_CLI_VERSION"
)

// Error is a typed error with a client-safe message. Details carry structured
// context (field names, offending values, retry hints); Cause is for server
// logs only and never reaches a client.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// WithDetail attaches one structured detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string, 1)
	}
	e.Details[key] = value
	return e
}

// New returns a typed error with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a typed error. The cause is logged server-side and
// never serialized to clients.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Internal wraps an unexpected error as InternalError.
func Internal(err error) *Error {
	return &Error{Kind: KindInternalError, Message: "internal error", Cause: err}
}

// KindOf returns the Kind of err, or InternalError for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternalError
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// AsError returns the typed error inside err, or a synthesized InternalError
// so callers always have a Kind, a message, and details to render.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// HTTPStatus maps a kind to the HTTP status the REST layer responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuthenticationFailed, KindTokenRevoked:
		return http.StatusUnauthorized
	case KindBlockedUser, KindDenied, KindRestrictedValue:
		return http.StatusForbidden
	case KindNoSuchRoute, KindNotFound, KindNotInstalled:
		return http.StatusNotFound
	case KindInvalidPayload, KindInvalidDescriptor, KindDependencyMissing:
		return http.StatusBadRequest
	case KindAlreadyExists, KindInvalidState, KindMountPointConflict:
		return http.StatusConflict
	case KindReferencedEntityMissing:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamError:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindUnsupportedClientVersion:
		return http.StatusUpgradeRequired
	default:
		return http.StatusInternalServerError
	}
}
