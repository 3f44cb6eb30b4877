package txn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// BackoffPolicy configures RetryWithBackoff.
type BackoffPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultBackoffPolicy mirrors the service-wide retry defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 60 * time.Second}
}

// RetryWithBackoff runs op, retrying with jittered exponential backoff while
// retriable(err) holds. Non-retriable errors are returned immediately.
func RetryWithBackoff(ctx context.Context, policy BackoffPolicy, retriable func(error) bool, op func(ctx context.Context) error) error {
	backoff := retry.NewExponential(policy.BaseDelay)
	backoff = retry.WithCappedDuration(policy.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(policy.MaxRetries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retriable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// ExponentialBackoff computes the delay before retry attempt n (0-based):
// min(maxDelay, base * factor^attempt).
func ExponentialBackoff(base time.Duration, factor float64, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt)))
	if d > maxDelay || d < 0 {
		return maxDelay
	}
	return d
}

// WithTimeout runs op under a deadline. A deadline hit surfaces as
// context.DeadlineExceeded, which classifies as a timeout upstream.
func WithTimeout(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteWithFallback runs primary, and on failure runs fallback. The
// primary's error is attached when the fallback also fails.
func ExecuteWithFallback(ctx context.Context, primary, fallback func(ctx context.Context) error) error {
	primaryErr := primary(ctx)
	if primaryErr == nil {
		return nil
	}
	if err := fallback(ctx); err != nil {
		return fmt.Errorf("fallback failed: %v (primary: %w)", err, primaryErr)
	}
	return nil
}

// BreakerState is the circuit breaker's current mode.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker trips OPEN after FailureThreshold consecutive failures and
// probes with a single call (HALF_OPEN) once Timeout has elapsed.
type CircuitBreaker struct {
	FailureThreshold int
	Timeout          time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(failureThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		FailureThreshold: failureThreshold,
		Timeout:          timeout,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// State returns the breaker's current state, applying the OPEN -> HALF_OPEN
// transition when the timeout has elapsed.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CircuitBreaker) stateLocked() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.Timeout {
		b.state = BreakerHalfOpen
	}
	return b.state
}

// Execute runs op through the breaker.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.stateLocked()
	if state == BreakerOpen {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == BreakerHalfOpen || b.failures >= b.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
			b.failures = 0
		}
		return err
	}
	b.state = BreakerClosed
	b.failures = 0
	return nil
}
