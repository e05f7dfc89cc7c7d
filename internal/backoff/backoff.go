// Package backoff provides a generic retry-with-exponential-backoff executor
// for fallible operations whose errors carry a retryable classification.
package backoff

import (
	"context"
	"errors"
	"time"
)

// Policy configures the retry behavior of Execute
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy returns the retry budget used for generation calls.
// Production delay values should follow the provider's retry-after guidance.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Operation is any fallible call wrapped by Execute
type Operation func() error

// retryable is implemented by errors that carry a retry classification
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err (or anything it wraps) is classified
// retryable.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// Execute runs op, retrying on retryable errors up to MaxRetries times with
// exponential backoff capped at MaxDelay. It returns the total number of
// attempts made (including the first) alongside the final error, so callers
// can record retry counts. Non-retryable errors propagate immediately.
// Attempt counts are deterministic for a fixed failure pattern.
func Execute(ctx context.Context, policy Policy, op Operation) (attempts int, err error) {
	delay := policy.InitialDelay
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return attempt, nil
		}
		if !IsRetryable(err) || attempt > policy.MaxRetries {
			return attempt, err
		}

		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
