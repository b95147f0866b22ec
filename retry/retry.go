// Package retry provides bounded exponential backoff for resubmitting a request.
// It uses Go generics for type-safe results and respects context cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeadlineExceeded is returned when the next wait would pass Config.MaxElapsed.
var ErrDeadlineExceeded = errors.New("retry deadline exceeded")

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound of a single delay; zero means unbounded
	Multiplier   float64       // Growth factor between delays; values below 1 keep the delay constant
	MaxElapsed   time.Duration // Overall budget across attempts and waits; zero means unbounded
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// Delay returns the wait that precedes attempt n (1-based, n >= 2).
func (c Config) Delay(n int) time.Duration {
	if n < 2 {
		return 0
	}
	d := float64(c.InitialDelay)
	for i := 2; i < n; i++ {
		if c.Multiplier > 1 {
			d *= c.Multiplier
		}
		if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithRetry executes fn until it succeeds, returns a non-retryable error, or the attempt
// or time budget runs out. fn receives the 1-based attempt number. The last error is
// returned unwrapped so callers can classify it.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func(attempt int) (T, error),
) (T, error) {
	var zero T
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	start := time.Now()

	var result T
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := config.Delay(attempt)
			if config.MaxElapsed > 0 && time.Since(start)+delay > config.MaxElapsed {
				return result, fmt.Errorf("%w after %d attempts: %w", ErrDeadlineExceeded, attempt-1, err)
			}
			if serr := Sleep(ctx, delay); serr != nil {
				return zero, serr
			}
		}
		if cerr := ctx.Err(); cerr != nil {
			return zero, cerr
		}

		result, err = fn(attempt)
		if err == nil {
			return result, nil
		}
		if isRetryable == nil || !isRetryable(err) {
			return result, err
		}
	}

	return result, err
}
