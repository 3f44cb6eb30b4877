// Package ratelimit provides keyed token-bucket admission control for calls
// to external services. The limiter rejects rather than queues; callers decide
// whether to retry.
package ratelimit

import (
	"context"
	"log"
	"math"
	"sync"
	"time"
)

// Config describes one bucket's behavior.
type Config struct {
	MaxTokens    float64
	RefillPerSec float64
	Enabled      bool
}

// Result reports the outcome of a limiter call.
type Result struct {
	Allowed   bool
	Remaining float64
	ResetAt   time.Time // when the bucket will be full again
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

// Limiter tracks token buckets per key. Buckets are created lazily and
// evicted by a background sweeper once idle past the TTL.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	logger  *log.Logger

	idleTTL     time.Duration
	sweepPeriod time.Duration
	stop        chan struct{}
	stopOnce    sync.Once

	now func() time.Time // injectable for tests
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithIdleTTL overrides the bucket eviction TTL (default 30 minutes).
func WithIdleTTL(ttl time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = ttl }
}

// WithSweepPeriod overrides the sweep interval (default 5 minutes).
func WithSweepPeriod(period time.Duration) Option {
	return func(l *Limiter) { l.sweepPeriod = period }
}

// WithClock injects a clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter and starts its background sweeper.
func NewLimiter(logger *log.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:     make(map[string]*bucket),
		logger:      logger,
		idleTTL:     30 * time.Minute,
		sweepPeriod: 5 * time.Minute,
		stop:        make(chan struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.sweepLoop()
	return l
}

// Close stops the background sweeper.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Check reports whether one token is available without consuming it.
func (l *Limiter) Check(key string, cfg Config) Result {
	return l.take(key, cfg, 0, 1)
}

// Consume takes n tokens from the bucket if available.
func (l *Limiter) Consume(key string, n float64, cfg Config) Result {
	return l.take(key, cfg, n, n)
}

// Status reports the current bucket state without requiring tokens.
func (l *Limiter) Status(key string, cfg Config) Result {
	return l.take(key, cfg, 0, 0)
}

// Reset refills the bucket to capacity.
func (l *Limiter) Reset(key string, cfg Config) {
	b := l.bucket(key, cfg)
	now := l.now()
	b.mu.Lock()
	b.tokens = cfg.MaxTokens
	b.lastRefill = now
	b.lastAccess = now
	b.mu.Unlock()
}

// Wait consumes a token, blocking with a capped backoff until one becomes
// available or the context is canceled. It is a convenience for internal
// pipeline callers; the HTTP layer uses Consume and surfaces 429 instead.
func (l *Limiter) Wait(ctx context.Context, key string, cfg Config) error {
	for {
		res := l.Consume(key, 1, cfg)
		if res.Allowed {
			return nil
		}
		delay := time.Until(res.ResetAt)
		if cfg.RefillPerSec > 0 {
			perToken := time.Duration(float64(time.Second) / cfg.RefillPerSec)
			if perToken < delay {
				delay = perToken
			}
		}
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// take refills lazily, requires `need` tokens to allow, and consumes `cost`.
func (l *Limiter) take(key string, cfg Config, cost, need float64) Result {
	if !cfg.Enabled {
		// Disabled buckets always allow and never consume.
		return Result{Allowed: true, Remaining: cfg.MaxTokens, ResetAt: l.now()}
	}

	b := l.bucket(key, cfg)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(cfg.MaxTokens, b.tokens+elapsed*cfg.RefillPerSec)
		b.lastRefill = now
	}
	b.lastAccess = now

	allowed := b.tokens >= need
	if allowed && cost > 0 {
		b.tokens -= cost
	}

	var resetAt time.Time
	if cfg.RefillPerSec > 0 {
		deficit := cfg.MaxTokens - b.tokens
		resetAt = now.Add(time.Duration(deficit / cfg.RefillPerSec * float64(time.Second)))
	} else {
		resetAt = now
	}

	return Result{Allowed: allowed, Remaining: b.tokens, ResetAt: resetAt}
}

func (l *Limiter) bucket(key string, cfg Config) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		now := l.now()
		b = &bucket{tokens: cfg.MaxTokens, lastRefill: now, lastAccess: now}
		l.buckets[key] = b
	}
	return b
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := b.lastAccess.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
			evicted++
		}
	}
	if evicted > 0 && l.logger != nil {
		l.logger.Printf("Evicted %d idle rate limit buckets", evicted)
	}
}

// BucketCount returns the number of live buckets.
func (l *Limiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
