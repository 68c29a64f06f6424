package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTenant indicates a tenant id that cannot be sanitized.
	ErrInvalidTenant = errors.New("invalid tenant")
	// ErrNoKernel indicates an execution was attempted against a session
	// with no attached kernel.
	ErrNoKernel = errors.New("session has no kernel")
	// ErrServerFailed indicates the remote server start attempt failed.
	ErrServerFailed = errors.New("server start failed")
	// ErrUnavailable indicates retries against the backend were exhausted.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrIdleTimeout indicates a progress stream stalled past the idle window.
	ErrIdleTimeout = errors.New("progress stream idle timeout")
	// ErrStreamCorrupt indicates the stream framing itself broke.
	ErrStreamCorrupt = errors.New("corrupt event stream")
)

// ErrorKind classifies an Error for propagation policy decisions.
type ErrorKind string

const (
	// KindTransient marks retryable failures (network errors, 5xx).
	KindTransient ErrorKind = "transient"
	// KindProtocol marks unexpected backend responses. Not retried.
	KindProtocol ErrorKind = "protocol"
	// KindFailed marks a normal negative outcome such as a 400 on start.
	KindFailed ErrorKind = "failed"
	// KindFatal marks structurally invalid preconditions. Not retried.
	KindFatal ErrorKind = "fatal"
)

// Error is the tagged error carried across component boundaries. Callers
// key policy off Kind, never off concrete types.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  int
	Err     error
}

// NewError constructs a tagged error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError tags an underlying error.
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from err, or KindFatal when untagged.
func KindOf(err error) ErrorKind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindFatal
}
