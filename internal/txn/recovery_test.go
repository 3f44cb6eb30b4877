package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	policy := BackoffPolicy{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	err := RetryWithBackoff(context.Background(), policy,
		func(err error) bool { return true },
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_NonRetriableStopsImmediately(t *testing.T) {
	policy := BackoffPolicy{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	terminal := errors.New("terminal")

	calls := 0
	err := RetryWithBackoff(context.Background(), policy,
		func(err error) bool { return false },
		func(ctx context.Context) error {
			calls++
			return terminal
		})
	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	policy := BackoffPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0
	err := RetryWithBackoff(context.Background(), policy,
		func(err error) bool { return true },
		func(ctx context.Context) error {
			calls++
			return errors.New("always fails")
		})
	assert.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestExponentialBackoff(t *testing.T) {
	base := time.Second
	maxDelay := 60 * time.Second

	assert.Equal(t, time.Second, ExponentialBackoff(base, 2, maxDelay, 0))
	assert.Equal(t, 2*time.Second, ExponentialBackoff(base, 2, maxDelay, 1))
	assert.Equal(t, 4*time.Second, ExponentialBackoff(base, 2, maxDelay, 2))
	assert.Equal(t, 32*time.Second, ExponentialBackoff(base, 2, maxDelay, 5))
	// Capped.
	assert.Equal(t, maxDelay, ExponentialBackoff(base, 2, maxDelay, 10))
	assert.Equal(t, maxDelay, ExponentialBackoff(base, 2, maxDelay, 60))
}

func TestWithTimeout_Expires(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_CompletesInTime(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestExecuteWithFallback(t *testing.T) {
	ctx := context.Background()
	ok := func(ctx context.Context) error { return nil }
	fail := func(ctx context.Context) error { return errors.New("nope") }

	assert.NoError(t, ExecuteWithFallback(ctx, ok, fail))
	assert.NoError(t, ExecuteWithFallback(ctx, fail, ok))
	assert.Error(t, ExecuteWithFallback(ctx, fail, fail))
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)
	ctx := context.Background()
	fail := func(ctx context.Context) error { return errors.New("down") }

	for i := 0; i < 3; i++ {
		assert.Error(t, b.Execute(ctx, fail))
	}
	assert.Equal(t, BreakerOpen, b.State())

	err := b.Execute(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	b := NewCircuitBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	require.Error(t, b.Execute(ctx, func(ctx context.Context) error { return errors.New("down") }))
	assert.Equal(t, BreakerOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, b.State())

	// Successful probe closes the breaker.
	require.NoError(t, b.Execute(ctx, func(ctx context.Context) error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker(1, 10*time.Millisecond)
	ctx := context.Background()
	fail := func(ctx context.Context) error { return errors.New("down") }

	require.Error(t, b.Execute(ctx, fail))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, BreakerHalfOpen, b.State())

	require.Error(t, b.Execute(ctx, fail))
	assert.Equal(t, BreakerOpen, b.State())
}
