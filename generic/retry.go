package generic

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how often a conflicting read-modify-write is replayed.
type RetryPolicy struct {
	Attempts  int           // total attempts, including the first
	BaseDelay time.Duration // upper bound of the first wait, doubled after every conflict
}

// DefaultRetryPolicy retries a conflicting operation three times in total.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 5 * time.Millisecond}

const maxBackoffShift = 62

// Backoff returns a full-jitter wait for attempt: a random duration in
// [0, base * 2^attempt). Writers that collided once do not collide again
// in lockstep.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}

	multiplier := int64(1) << attempt
	ceiling := int64(math.MaxInt64)
	if int64(base) <= math.MaxInt64/multiplier {
		ceiling = int64(base) * multiplier
	}
	return time.Duration(rand.Int64N(ceiling))
}

// RetryOnConflict runs fn until it succeeds, fails with a non-retryable
// error, or exhausts the policy. Only ErrConcurrentModification is retried;
// every other error is returned as-is on first occurrence.
func RetryOnConflict(ctx context.Context, policy RetryPolicy, fn func() error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		delay := Backoff(policy.BaseDelay, attempt)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}
