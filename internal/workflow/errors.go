package workflow

import (
	"errors"
	"fmt"
	"time"
)

// NonRetriableError marks a failure no retry can fix: the run must
// terminate immediately and the event must not be redelivered.
// Every other failure is treated as retriable.
type NonRetriableError struct {
	Err error
}

func (e *NonRetriableError) Error() string {
	return e.Err.Error()
}

func (e *NonRetriableError) Unwrap() error {
	return e.Err
}

// NonRetriable wraps err as a terminal failure.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetriableError{Err: err}
}

// NonRetriablef builds a terminal failure from a format string.
func NonRetriablef(format string, args ...any) error {
	return &NonRetriableError{Err: fmt.Errorf(format, args...)}
}

// IsNonRetriable reports whether err is classified terminal.
func IsNonRetriable(err error) bool {
	var nre *NonRetriableError
	return errors.As(err, &nre)
}

// BackoffStrategy selects how retry delays grow between run attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy bounds re-drives of a run after retriable failures.
// MaxAttempts counts the first attempt, so MaxAttempts=3 allows two
// retries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Strategy    BackoffStrategy
}

// DefaultRetryPolicy mirrors the upstream default of two retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
		Strategy:    BackoffExponential,
	}
}

// Delay returns how long the driver should wait before re-driving the
// run after the given (1-based) failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	if p.Strategy != BackoffExponential {
		return p.Backoff
	}
	delay := p.Backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
