// Package aiclient provides a rate-limited, retrying client for external
// language/vision model calls. All pipeline stages that need a model go
// through one shared client so in-flight calls stay bounded process-wide.
package aiclient

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed model call.
type ErrorKind string

const (
	KindConfig           ErrorKind = "config_error"
	KindTimeout          ErrorKind = "timeout"
	KindRateLimited      ErrorKind = "rate_limited"
	KindTransient        ErrorKind = "transient_error"
	KindAPI              ErrorKind = "api_error"
	KindNetwork          ErrorKind = "network_error"
	KindRetriesExhausted ErrorKind = "retries_exhausted"
)

// retryableKinds marks the kinds a caller may reasonably retry at a higher
// level. The client itself only auto-retries rate_limited, transient_error,
// and network_error inside a single CreateMessage call.
var retryableKinds = map[ErrorKind]bool{
	KindTimeout:     true,
	KindRateLimited: true,
	KindTransient:   true,
	KindNetwork:     true,
}

// Error is the typed failure surfaced to callers of the model client.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("aiclient: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("aiclient: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, statusCode int, message string, cause error) *Error {
	return &Error{
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryableKinds[kind],
		Err:        cause,
	}
}

// KindOf returns the ErrorKind of err, or "" when err does not carry one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a model-call error a caller may retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// StatusError is returned by transports for non-success HTTP responses so
// the client can classify and back off without depending on a concrete SDK
// error type.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model API returned %d: %s", e.StatusCode, e.Message)
}
