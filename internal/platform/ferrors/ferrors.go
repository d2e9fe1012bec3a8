// Package ferrors holds the sentinel errors for the orchestrator's error
// taxonomy (spec §7: Validation, Conflict, NotFound, Transient,
// Deterministic-stage-failure, Timeout, Fatal). Components wrap these with
// fmt.Errorf("...: %w", ErrX) rather than inventing ad-hoc strings, and
// IsTransient/IsDeterministic classify a wrapped error for the retry logic
// in stageexec.
package ferrors

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrConflict          = errors.New("conflict")
	ErrTransient         = errors.New("transient")
	ErrDeterministicFail = errors.New("deterministic stage failure")
	ErrTimeout           = errors.New("timeout")
	ErrFatal             = errors.New("fatal")
)

// IsTransient reports whether err should be retried with backoff: network
// errors, rate limits, and 5xx-shaped failures from a sub-agent runtime.
// It is the Retryable predicate plugged into stageexec.RetryPolicy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) {
		return true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "temporarily unavailable"):
		return true
	}
	return false
}

// IsDeterministic reports whether err is a validator/schema failure that
// must never be retried — the stage is marked failed and its artifacts are
// rolled back instead.
func IsDeterministic(err error) bool {
	return errors.Is(err, ErrDeterministicFail) || errors.Is(err, ErrInvalidArgument)
}
