package workflow

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsNonRetriable(t *testing.T) {
	if !IsNonRetriable(NonRetriablef("bad id %q", "x")) {
		t.Fatalf("expected NonRetriablef error to classify as non-retriable")
	}
	if !IsNonRetriable(NonRetriable(errors.New("missing"))) {
		t.Fatalf("expected NonRetriable error to classify as non-retriable")
	}

	wrapped := fmt.Errorf("step failed: %w", NonRetriable(errors.New("missing")))
	if !IsNonRetriable(wrapped) {
		t.Fatalf("expected wrapped non-retriable to stay non-retriable")
	}

	if IsNonRetriable(errors.New("transient")) {
		t.Fatalf("plain errors must classify as retriable")
	}
	if IsNonRetriable(nil) {
		t.Fatalf("nil must not classify as non-retriable")
	}
}

func TestNonRetriableNilPassthrough(t *testing.T) {
	if NonRetriable(nil) != nil {
		t.Fatalf("NonRetriable(nil) must be nil")
	}
}

func TestNonRetriableUnwrap(t *testing.T) {
	inner := errors.New("ticket not found")
	err := NonRetriable(inner)
	if !errors.Is(err, inner) {
		t.Fatalf("expected errors.Is to reach the wrapped error")
	}
	if err.Error() != "ticket not found" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestRetryPolicyDelayFixed(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: 2 * time.Second, Strategy: BackoffFixed}
	for attempt := 1; attempt <= 3; attempt++ {
		if got := policy.Delay(attempt); got != 2*time.Second {
			t.Fatalf("attempt %d: expected fixed 2s, got %v", attempt, got)
		}
	}
}

func TestRetryPolicyDelayExponential(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Second, Strategy: BackoffExponential}
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, want := range expected {
		if got := policy.Delay(i + 1); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, want, got)
		}
	}
}

func TestRetryPolicyDelayZeroBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3}
	if got := policy.Delay(2); got != 0 {
		t.Fatalf("expected zero delay, got %v", got)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()
	if policy.MaxAttempts != 3 {
		t.Fatalf("expected 3 max attempts, got %d", policy.MaxAttempts)
	}
	if policy.Strategy != BackoffExponential {
		t.Fatalf("expected exponential strategy, got %s", policy.Strategy)
	}
}
