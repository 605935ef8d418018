package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a collaborator failure and drives the shared retry
// policy. Every node-level failure is classified into one of these kinds
// before being handled.
type ErrorKind string

const (
	// ErrTransient covers network failures, upstream 5xx, and timeouts.
	// Retried with exponential backoff.
	ErrTransient ErrorKind = "TRANSIENT_PROVIDER_ERROR"
	// ErrAuthExpired marks an expired credential. Triggers a one-shot
	// refresh followed by a single retry.
	ErrAuthExpired ErrorKind = "AUTH_EXPIRED"
	// ErrInvalidRequest is permanent: malformed input or an invalid
	// target. Never retried; surfaced to the user.
	ErrInvalidRequest ErrorKind = "INVALID_REQUEST"
	// ErrQuotaExceeded is surfaced with a retry-after hint and logged for
	// capacity monitoring.
	ErrQuotaExceeded ErrorKind = "QUOTA_EXCEEDED"
	// ErrStaleCallback marks a callback referencing a terminal or unknown
	// workflow. Logged and silently dropped.
	ErrStaleCallback ErrorKind = "STALE_CALLBACK"
)

// Error is the structured error carried across mailflow components.
type Error struct {
	Kind       ErrorKind     `json:"kind"`
	Message    string        `json:"message"`
	Provider   string        `json:"provider,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Cause      error         `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a new Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithCause attaches the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithProvider names the collaborator that failed.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithRetryAfter attaches the upstream retry-after hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Kind extracts the error kind. Unclassified errors are treated
// conservatively as invalid requests so they are never retried.
func Kind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInvalidRequest
}

// IsRetryable reports whether the shared retry policy may re-attempt the
// failed call (auth expiry has its own refresh-then-retry-once path).
func IsRetryable(err error) bool {
	return Kind(err) == ErrTransient
}

// IsStaleCallback reports whether the error is a dropped stale callback.
func IsStaleCallback(err error) bool {
	return Kind(err) == ErrStaleCallback
}
