package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a gateway failure for recovery purposes.
type ErrorKind string

const (
	// KindTransient covers timeouts and connectivity loss; the caller may
	// retry manually after the rollback.
	KindTransient ErrorKind = "transient"
	// KindValidation covers requests the backend rejected as malformed or
	// not permitted for the actor.
	KindValidation ErrorKind = "validation"
	// KindConflict covers mutations that raced authoritative state, such as
	// approving an already-rejected post.
	KindConflict ErrorKind = "conflict"
	// KindServer covers backend-side failures.
	KindServer ErrorKind = "server"
)

// Error is a classified gateway failure.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway %s: %s (%s)", e.Op, e.Message, e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v (%s)", e.Op, e.Err, e.Kind)
	}
	return fmt.Sprintf("gateway %s failed (%s)", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may sensibly retry the same request.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// KindOf extracts the classification from any error chain, defaulting to
// transient so an unclassified failure still triggers rollback semantics.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindTransient
}

// classifyStatus maps an HTTP response status onto the error taxonomy.
func classifyStatus(op string, status int, body string) *Error {
	kind := KindServer
	switch {
	case status == http.StatusConflict || status == http.StatusGone:
		kind = KindConflict
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		kind = KindTransient
	case status >= 400 && status < 500:
		kind = KindValidation
	}
	return &Error{Kind: kind, Op: op, Status: status, Message: body}
}

// wrapTransport classifies a transport-level failure. Context expiry and
// anything else that never produced a response counts as transient.
func wrapTransport(op string, err error) *Error {
	kind := KindTransient
	if errors.Is(err, context.Canceled) {
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
