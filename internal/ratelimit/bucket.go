// Package ratelimit throttles every outbound request to the ADS-B upstream
// through one process-wide token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/yeonjoon13/nearby-flights/internal/metrics"
)

const (
	DefaultWindow       = time.Minute
	DefaultPollInterval = 250 * time.Millisecond
)

// TokenBucket hands out up to capacity tokens per window. The bucket is
// refilled to full, not incrementally, once a whole window has elapsed
// since the last refill. Waiters are not queued; whichever goroutine wakes
// first after a refill wins.
type TokenBucket struct {
	clock        quartz.Clock
	window       time.Duration
	pollInterval time.Duration

	mu         sync.Mutex
	capacity   int
	tokens     int
	lastRefill time.Time
}

type Option func(*TokenBucket)

func WithWindow(d time.Duration) Option {
	return func(b *TokenBucket) {
		if d > 0 {
			b.window = d
		}
	}
}

// WithPollInterval sets how long an empty-handed caller sleeps before retrying.
func WithPollInterval(d time.Duration) Option {
	return func(b *TokenBucket) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// New returns a full bucket. A capacity below one is raised to one.
func New(capacity int, clock quartz.Clock, opts ...Option) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	b := &TokenBucket{
		clock:        clock,
		window:       DefaultWindow,
		pollInterval: DefaultPollInterval,
		capacity:     capacity,
		tokens:       capacity,
		lastRefill:   clock.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.LimiterTokens.Set(float64(b.tokens))
	return b
}

// Acquire blocks until a token is available. It only fails when ctx ends.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	for {
		if b.tryTake() {
			return nil
		}
		metrics.LimiterWaits.Inc()

		t := b.clock.NewTimer(b.pollInterval, "TokenBucket", "wait")
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (b *TokenBucket) tryTake() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if now.Sub(b.lastRefill) >= b.window {
		b.tokens = b.capacity
		b.lastRefill = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	metrics.LimiterTokens.Set(float64(b.tokens))
	return true
}

func (b *TokenBucket) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Tokens reports the stored count; a pending refill is not applied.
func (b *TokenBucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
