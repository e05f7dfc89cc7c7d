package llm

import (
	"errors"
	"fmt"
)

// Error represents a classified failure from the generation provider.
// Transient is true only for rate-limit style failures; the orchestrator
// retries on classification, never on message text.
type Error struct {
	Op        string
	Message   string
	Cause     error
	Transient bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure may be retried with backoff
func (e *Error) Retryable() bool {
	return e.Transient
}

// IsRetryable reports whether err (or anything it wraps) is a retryable
// generation failure.
func IsRetryable(err error) bool {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Retryable()
	}
	return false
}

// RateLimited builds a retryable error for HTTP-429-equivalent failures
func RateLimited(op string, cause error) *Error {
	return &Error{Op: op, Message: "rate limited by provider", Cause: cause, Transient: true}
}

// Fatal builds a non-retryable error
func Fatal(op, message string, cause error) *Error {
	return &Error{Op: op, Message: message, Cause: cause, Transient: false}
}
