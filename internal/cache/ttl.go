// Package cache provides the short-lived lookup caches that sit in front of
// the callsign and route-set upstream endpoints.
package cache

import (
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/yeonjoon13/nearby-flights/internal/metrics"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// TTL is a map with per-entry expiry. Expired entries are dropped lazily on
// Get; there is no sweeper and no size bound.
type TTL[V any] struct {
	name  string
	clock quartz.Clock

	mu      sync.RWMutex
	entries map[string]entry[V]
}

func NewTTL[V any](name string, clock quartz.Clock) *TTL[V] {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &TTL[V]{
		name:    name,
		clock:   clock,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the live value for key. An entry read at or past its expiry
// is evicted and reported absent.
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		metrics.RecordCacheLookup(c.name, "miss")
		return zero, false
	}
	if c.clock.Now().Before(e.expires) {
		metrics.RecordCacheLookup(c.name, "hit")
		return e.value, true
	}

	c.mu.Lock()
	// A concurrent Set may have replaced the entry since the read lock was released.
	if cur, ok := c.entries[key]; ok && !c.clock.Now().Before(cur.expires) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	metrics.RecordCacheLookup(c.name, "expired")
	return zero, false
}

// Set stores v until now+ttl, replacing any existing entry.
func (c *TTL[V]) Set(key string, v V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, expires: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
}

// Peek returns the raw entry without evicting it.
func (c *TTL[V]) Peek(key string) (v V, expires time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e.value, e.expires, ok
}

// Len counts stored entries, including expired ones not yet read.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *TTL[V]) Name() string { return c.name }
