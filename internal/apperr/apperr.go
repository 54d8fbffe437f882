// Package apperr defines the typed error kinds shared by every layer of
// the service: repositories, the merge/spatial/invoice engines, and the
// HTTP/JSON-RPC boundaries. Kinds are translated to transport-specific
// codes at the boundary, never inside a repository or engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a coarse classification of an error, used by transport layers
// to pick an HTTP status code or JSON-RPC error code.
type Kind int

const (
	// KindInternal is the zero value: unexpected failures (DB, serialization).
	KindInternal Kind = iota
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindBadRequest
	KindConflict
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// Error is the concrete error type carried across layers. Use errors.As
// to recover it at a transport boundary.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFound error, e.g. for a missing row lookup by id/alias.
func NotFound(format string, args ...any) error { return newErr(KindNotFound, format, args...) }

// Unauthorized builds an Unauthorized error for a missing/invalid bearer secret.
func Unauthorized(format string, args ...any) error {
	return newErr(KindUnauthorized, format, args...)
}

// Forbidden builds a Forbidden error for an insufficient role or a banned IP.
func Forbidden(format string, args ...any) error { return newErr(KindForbidden, format, args...) }

// BadRequest builds a BadRequest error for malformed input or a constraint violation.
func BadRequest(format string, args ...any) error { return newErr(KindBadRequest, format, args...) }

// Conflict builds a Conflict error, e.g. a unique-constraint violation.
func Conflict(format string, args ...any) error { return newErr(KindConflict, format, args...) }

// UpstreamUnavailable builds an error for a failed or suspicious external call.
func UpstreamUnavailable(format string, args ...any) error {
	return newErr(KindUpstreamUnavailable, format, args...)
}

// Internal wraps an unexpected underlying error (DB, serialization, etc).
func Internal(cause error, format string, args ...any) error {
	e := newErr(KindInternal, format, args...)
	e.Cause = cause
	return e
}

// Wrap attaches cause to an existing apperr.Error, or wraps it as Internal
// if err is not already typed.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		wrapped := *e
		wrapped.Message = fmt.Sprintf(format, args...)
		wrapped.Cause = err
		return &wrapped
	}
	return Internal(err, format, args...)
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err is
// not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err (or something it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
