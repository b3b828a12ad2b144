package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMaxRetriesExceeded is wrapped around the last error once every attempt failed.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// Sleeper waits between attempts. Tests replace it to avoid real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy describes a fixed-backoff retry.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Sleep       Sleeper
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Do runs op up to maxAttempts times with a fixed backoff between attempts.
// It returns the first successful result, or an error wrapping both
// ErrMaxRetriesExceeded and the last failure.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), maxAttempts int, backoff time.Duration) (T, error) {
	return Run(ctx, Policy{MaxAttempts: maxAttempts, Backoff: backoff}, op)
}

// Run is Do with the full policy.
func Run[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if p.Backoff > 0 {
			if serr := sleep(ctx, p.Backoff); serr != nil {
				return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt, serr)
			}
		} else if ctx.Err() != nil {
			return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
