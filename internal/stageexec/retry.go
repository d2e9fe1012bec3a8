package stageexec

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy governs internal retries within a single stage invocation
// (spec §4.5: "up to max_retries=2 internal retries ... on transient
// errors"). Grounded on the teacher's orchestrator.RetryPolicy/
// shouldRetry/computeBackoff, unchanged in shape; Retryable here is
// always ferrors.IsTransient rather than a per-stage predicate, since C5
// classifies every error itself via the shared taxonomy.
type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(err error) bool

	MinBackoff time.Duration
	MaxBackoff time.Duration
	JitterFrac float64
}

// DefaultRetryPolicy is spec §4.5's stage-internal retry budget: 2
// retries (3 attempts total), exponential backoff starting at 1s capped
// at 10s, 20% jitter.
func DefaultRetryPolicy(retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Retryable:   retryable,
		MinBackoff:  1 * time.Second,
		MaxBackoff:  10 * time.Second,
		JitterFrac:  0.20,
	}
}

func shouldRetry(r RetryPolicy, attempts int, err error) bool {
	if r.MaxAttempts <= 0 || attempts >= r.MaxAttempts {
		return false
	}
	if r.Retryable == nil {
		return true
	}
	return r.Retryable(err)
}

func computeBackoff(r RetryPolicy, attempts int) time.Duration {
	minB, maxB, j := r.MinBackoff, r.MaxBackoff, r.JitterFrac
	if minB <= 0 {
		minB = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 10 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(minB) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low, high := float64(d)-delta, float64(d)+delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}
