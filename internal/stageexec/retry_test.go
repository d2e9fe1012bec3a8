package stageexec

import (
	"errors"
	"testing"
	"time"

	"github.com/agentforge/buildpipeline/internal/platform/ferrors"
)

func TestDefaultRetryPolicyShape(t *testing.T) {
	p := DefaultRetryPolicy(ferrors.IsTransient)
	if p.MaxAttempts != 3 {
		t.Fatalf("expected 3 max attempts, got %d", p.MaxAttempts)
	}
	if p.MinBackoff != time.Second || p.MaxBackoff != 10*time.Second {
		t.Fatalf("unexpected backoff bounds: %v..%v", p.MinBackoff, p.MaxBackoff)
	}
}

func TestShouldRetryRespectsMaxAttempts(t *testing.T) {
	p := DefaultRetryPolicy(ferrors.IsTransient)
	if !shouldRetry(p, 1, ferrors.ErrTransient) {
		t.Fatal("expected retry allowed below max attempts")
	}
	if shouldRetry(p, 3, ferrors.ErrTransient) {
		t.Fatal("expected no retry once attempts reach MaxAttempts")
	}
}

func TestShouldRetryRespectsRetryablePredicate(t *testing.T) {
	p := DefaultRetryPolicy(ferrors.IsTransient)
	if shouldRetry(p, 1, errors.New("some deterministic validation failure")) {
		t.Fatal("expected no retry for a non-transient error")
	}
}

func TestComputeBackoffGrowsAndCaps(t *testing.T) {
	p := DefaultRetryPolicy(ferrors.IsTransient)
	d1 := computeBackoff(p, 1)
	d2 := computeBackoff(p, 2)
	d10 := computeBackoff(p, 10)
	if d1 <= 0 || d2 <= 0 {
		t.Fatal("expected positive backoff durations")
	}
	if d10 > p.MaxBackoff+time.Duration(float64(p.MaxBackoff)*p.JitterFrac)+time.Millisecond {
		t.Fatalf("expected backoff capped near MaxBackoff, got %v", d10)
	}
}
