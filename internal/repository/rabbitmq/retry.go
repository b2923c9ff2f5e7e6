package rabbitmq

import (
	"context"
	"time"
)

// retryLinear runs fn up to attempts times. The delay between attempt k and
// k+1 is base*k (linear backoff). The last error is returned once the
// attempt ceiling is exhausted; no further attempts are made.
func retryLinear(ctx context.Context, attempts int, base time.Duration, sleep func(context.Context, time.Duration) error, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, base*time.Duration(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
