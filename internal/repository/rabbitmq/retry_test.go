package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryLinearSucceedsAfterFailures(t *testing.T) {
	var slept []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	calls := 0
	err := retryLinear(context.Background(), 3, time.Second, sleep, func() error {
		calls++
		if calls < 3 {
			return errors.New("dial refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// delay between attempt k and k+1 is base*k
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, slept)
}

func TestRetryLinearExhaustsCeiling(t *testing.T) {
	var slept []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	dialErr := errors.New("dial refused")
	calls := 0
	err := retryLinear(context.Background(), 3, time.Second, sleep, func() error {
		calls++
		return dialErr
	})

	assert.ErrorIs(t, err, dialErr)
	// no further attempts past the ceiling, and no sleep after the last one
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, slept)
}

func TestRetryLinearFirstTrySuccess(t *testing.T) {
	calls := 0
	err := retryLinear(context.Background(), 5, time.Second, func(context.Context, time.Duration) error {
		t.Fatal("should not sleep")
		return nil
	}, func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryLinearCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := retryLinear(ctx, 3, time.Second, sleep, func() error {
		calls++
		return errors.New("dial refused")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
