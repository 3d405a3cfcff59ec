// Package apperr defines the error taxonomy shared by the request path and
// the async pipeline. Each error carries a Kind; one exhaustive switch at
// the HTTP boundary maps kinds to status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an Error with its place in the taxonomy.
type Kind int

const (
	// KindCacheUnavailable means the cache backend is unreachable. The whole
	// request fails and no job is enqueued.
	KindCacheUnavailable Kind = iota
	// KindEnqueueFailure means the queue backend rejected or never recorded
	// an enqueue. Surfaced synchronously to the caller.
	KindEnqueueFailure
	// KindNotFound means the requested entity has no cache record.
	KindNotFound
	// KindValidation means the request payload failed a guard check.
	KindValidation
	// KindConflict means the mutation conflicts with current state.
	KindConflict
	// KindInternal covers everything else.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindCacheUnavailable:
		return "cache_unavailable"
	case KindEnqueueFailure:
		return "enqueue_failure"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Status maps a Kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindCacheUnavailable, KindEnqueueFailure, KindInternal:
		return http.StatusInternalServerError
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a tagged application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}
