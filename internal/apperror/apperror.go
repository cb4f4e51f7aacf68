// Package apperror defines the transport-agnostic error kinds produced by
// RPC resolvers (internal/rpc) and the streaming orchestrator
// (internal/session). A Kind survives serialization across every transport
// (in-process, HTTP, SSE, WebSocket) so a client can branch on it instead of
// matching error strings.
package apperror

import "fmt"

// Kind classifies an error independent of the transport that carries it.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindProvider    Kind = "provider"
	KindStream      Kind = "stream"
	KindStorage     Kind = "storage"
	KindAbort       Kind = "abort"
	KindTimeout     Kind = "timeout"
	KindUnknown     Kind = "unknown"
)

// Error is a typed application error. Kind is stable across transports;
// Message is human-readable; Cause, when present, is not serialized but is
// available to in-process callers via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// KindOf reports the Kind of err if it is (or wraps) an *Error, else
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
