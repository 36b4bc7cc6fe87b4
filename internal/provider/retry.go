package provider

import (
	"context"
	"math/rand"
	"time"
)

// backoffDelay computes the delay before retry attempt n (0-based):
// exponential growth from base, capped at max, with half-range jitter so
// concurrent pipelines don't retry in lockstep.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt)
	if d > max || d <= 0 {
		d = max
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// withRetry runs call up to budget times, applying a per-attempt timeout and
// backing off between failures. The last error is returned once the budget
// or the surrounding context is exhausted.
func withRetry(ctx context.Context, budget int, attemptTimeout, base, max time.Duration, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < budget; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		lastErr = call(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == budget-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(attempt, base, max)):
		}
	}
	return lastErr
}
