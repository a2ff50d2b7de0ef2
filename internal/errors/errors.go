// Package errors defines the typed error taxonomy shared by the sync
// pipeline and the HTTP surface. Each kind maps to one user-visible
// behavior: admission rejections, configuration faults, retryable
// upstream failures, and read-path not-found conditions.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind categorizes an error for propagation and HTTP mapping.
type Kind int

const (
	// KindConfig - missing forge token, malformed settings JSON, bad repo URL.
	KindConfig Kind = iota
	// KindAdmission - request rejected before any work started.
	KindAdmission
	// KindUpstream - forge network/5xx failure, retryable at the client.
	KindUpstream
	// KindNotFound - unknown session, team, or commit on a read endpoint.
	KindNotFound
	// KindDatabase - store connection or query failure.
	KindDatabase
	// KindInternal - unexpected internal state.
	KindInternal
)

// Error is a categorized error with an optional cause.
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

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind so callers can test errors.Is(err, admission sentinel).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error. Returns nil for a
// nil cause so call sites can wrap unconditionally.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Convenience constructors for the common kinds.

func Config(message string) *Error {
	return New(KindConfig, message)
}

func Configf(format string, args ...interface{}) *Error {
	return Newf(KindConfig, format, args...)
}

func Admission(message string) *Error {
	return New(KindAdmission, message)
}

func Admissionf(format string, args ...interface{}) *Error {
	return Newf(KindAdmission, format, args...)
}

func Upstream(err error, message string) *Error {
	return Wrap(err, KindUpstream, message)
}

func Upstreamf(err error, format string, args ...interface{}) *Error {
	return Wrapf(err, KindUpstream, format, args...)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return Newf(KindNotFound, format, args...)
}

func Database(err error, message string) *Error {
	return Wrap(err, KindDatabase, message)
}

func Internal(message string) *Error {
	return New(KindInternal, message)
}

// GetKind extracts the kind of an error, defaulting to KindInternal for
// errors that did not originate here.
func GetKind(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the response code the API layer sends.
func HTTPStatus(err error) int {
	switch GetKind(err) {
	case KindConfig:
		return http.StatusBadRequest
	case KindAdmission:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
