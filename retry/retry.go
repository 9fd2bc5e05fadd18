// Package retry runs an operation a bounded number of times with exponential
// backoff. The gate uses it only to discover facilitator capabilities once at
// construction; payment verification, settlement and chain reads are never retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meterline/x402-gate"
)

// ErrInvalidPolicy is returned when a Policy cannot run any attempt.
var ErrInvalidPolicy = errors.New("retry: invalid policy")

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts  int           // Maximum number of attempts, including the first
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound on any single delay
	Multiplier   float64       // Growth factor applied after each delay
}

// DiscoveryPolicy is used for the one-time GET /supported call.
var DiscoveryPolicy = Policy{
	MaxAttempts:  3,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// Validate reports whether the policy allows at least one attempt.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: MaxAttempts must be at least 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// IsRetryable reports whether an error should trigger another attempt.
type IsRetryable func(error) bool

// Transient treats facilitator transport failures as retryable and everything
// else, including context errors, as final.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}

// Do calls fn until it succeeds, returns a non-retryable error, the policy is
// exhausted or ctx is done.
func Do[T any](ctx context.Context, policy Policy, retryable IsRetryable, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, err
	}

	var lastErr error
	delay := policy.InitialDelay

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}

		if attempt < policy.MaxAttempts-1 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
				delay = time.Duration(float64(delay) * policy.Multiplier)
				if delay > policy.MaxDelay {
					delay = policy.MaxDelay
				}
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", x402.ErrMaxRetriesExceeded, policy.MaxAttempts, lastErr)
}
