// Package retry runs a cancellable operation with bounded, exponentially
// backed-off retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

var (
	// ErrCanceled wraps the context error when the operation's context is
	// done. Cancellation is terminal and never retried.
	ErrCanceled = errors.New("retry: canceled")
	// ErrExhausted wraps the last error once every attempt failed.
	ErrExhausted = errors.New("retry: attempts exhausted")
)

// Options configures Do. The zero value runs the operation exactly once.
type Options struct {
	// Retries is the number of additional attempts after the first one.
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Jitter spreads each delay uniformly over [delay/2, delay].
	Jitter bool
	// Retryable reports whether err may be retried. Nil means every
	// non-cancellation error is retryable.
	Retryable func(err error) bool
	// OnRetry is called before waiting for attempt (1-based retry number).
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Backoff returns the wait before retry n (n >= 1): BaseDelay doubled n-1
// times, capped at MaxDelay.
func (o Options) Backoff(n int) time.Duration {
	if n < 1 || o.BaseDelay <= 0 {
		return 0
	}
	d := o.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if o.MaxDelay > 0 && d >= o.MaxDelay {
			return o.MaxDelay
		}
	}
	if o.MaxDelay > 0 && d > o.MaxDelay {
		return o.MaxDelay
	}
	return d
}

// Do calls op until it succeeds, fails with a non-retryable error, ctx is
// done, or Retries+1 attempts were made. op receives ctx and must abort its
// work when ctx is done.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			delay := opts.Backoff(attempt)
			if opts.Jitter && delay > 0 {
				half := delay / 2
				delay = half + rand.N(half+1)
			}
			if opts.OnRetry != nil {
				opts.OnRetry(attempt, delay, lastErr)
			}
			if err := wait(ctx, delay); err != nil {
				return zero, fmt.Errorf("%w: %w", ErrCanceled, err)
			}
		}

		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrCanceled, err)
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		// an attempt that failed because its signal fired is abandoned, not retried
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("%w: %w", ErrCanceled, errors.Join(ctxErr, err))
		}
		if opts.Retryable != nil && !opts.Retryable(err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, opts.Retries+1, lastErr)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
