package util

import (
	"context"
	"errors"
	"time"
)

// Backoff controls Retry. Delay doubles after every failed attempt and is
// capped at MaxDelay when set.
type Backoff struct {
	Tries    int
	Delay    time.Duration
	MaxDelay time.Duration
}

// Permanent marks an error that must not be retried.
type Permanent struct {
	Err error
}

func (p Permanent) Error() string { return p.Err.Error() }
func (p Permanent) Unwrap() error { return p.Err }

// Retry calls fn until it succeeds, returns a Permanent or context error,
// runs out of tries or ctx ends. Tries below 1 mean a single attempt. The
// last error is returned, unwrapped from Permanent.
func Retry[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	tries := max(b.Tries, 1)
	delay := b.Delay

	var lastErr error
	for attempt := range tries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}

		var perm Permanent
		if errors.As(err, &perm) {
			return zero, perm.Err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		lastErr = err

		if attempt == tries-1 || delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if b.MaxDelay > 0 && delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}
	return zero, lastErr
}

// RetryErr is Retry for functions without a result.
func RetryErr(ctx context.Context, b Backoff, fn func(context.Context) error) error {
	_, err := Retry(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
