package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/stepflow/pkg/schema"
)

// maxBackoffShift caps the exponent so delays cannot overflow.
const maxBackoffShift = 20

// IsRetryableError classifies whether a failed action attempt should be retried.
// Caller cancellation, configuration faults and errors whose details carry
// "retryable": false are never retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var sErr *schema.Error
	if errors.As(err, &sErr) {
		if retryable, ok := sErr.Details["retryable"].(bool); ok && !retryable {
			return false
		}
	}
	switch schema.CodeOf(err) {
	case schema.ErrCodeActionUnavailable, schema.ErrCodeValidation, schema.ErrCodeInterpolation,
		schema.ErrCodeCancelled:
		return false
	}
	return true
}

// MaxAttempts returns the total number of attempts allowed by policy (at least 1).
func MaxAttempts(policy *schema.RetryPolicy) int {
	if policy == nil || policy.MaxAttempts < 1 {
		return 1
	}
	return policy.MaxAttempts
}

// ComputeBackoff returns the wait after the given failed attempt (1-based): delay * 2^(attempt-1).
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) (time.Duration, error) {
	if policy == nil || policy.Delay == "" || attempt < 1 {
		return 0, nil
	}
	base, err := time.ParseDuration(policy.Delay)
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeInvalidStep, "invalid retry delay %q", policy.Delay).WithCause(err)
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return base << shift, nil
}

// WaitForBackoff sleeps for delay or returns early if the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
