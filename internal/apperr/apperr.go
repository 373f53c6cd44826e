// Package apperr defines the error taxonomy shared by the services and the
// HTTP layer. Services return *Error values; handlers turn them into status
// codes with HTTPStatus.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindValidation Kind = "validation_error"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindUpstream   Kind = "upstream_error"
	KindInternal   Kind = "internal_error"
)

var kindToStatus = map[Kind]int{
	KindValidation: http.StatusBadRequest,
	KindForbidden:  http.StatusForbidden,
	KindNotFound:   http.StatusNotFound,
	KindUpstream:   http.StatusBadGateway,
	KindInternal:   http.StatusInternalServerError,
}

// Error is a classified application error.
type Error struct {
	Kind Kind
	Msg  string // returned to the caller
	Err  error  // logged, never returned
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Msg, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports a malformed or disallowed request.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Forbidden reports that the caller may not act on the resource.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Msg: msg}
}

// NotFound reports a missing entity.
func NotFound(entity, key string) *Error {
	return &Error{Kind: KindNotFound, Msg: entity + " not found: " + key}
}

// Upstream reports a failure of an external platform that the caller has to see.
func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Msg: msg, Err: err}
}

// Internal reports an unexpected failure, usually from the primary store.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	if status, ok := kindToStatus[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Message returns the caller-facing message of err. Unclassified errors are
// reported generically so store internals do not leak.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Msg
	}
	return "internal error"
}
