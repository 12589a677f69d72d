package cache

import (
	"context"
	"errors"
	"time"
)

// retry calls fn up to attempts times with exponential backoff between
// attempts, capped at max. It stops early when retryable rejects an error or
// ctx is done. fn receives the zero-based attempt number.
func retry(ctx context.Context, attempts int, initial, max time.Duration, retryable func(error) bool, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	d := initial
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			}
			if d < max {
				d *= 2
				if d > max {
					d = max
				}
			}
		}
		if err = fn(i); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}

// defaultRetryable retries everything except cancellation.
func defaultRetryable(err error) bool {
	return !errors.Is(err, context.Canceled)
}
