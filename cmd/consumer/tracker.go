package main

import (
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/yeonjoon13/nearby-flights/internal/kafka"
	"github.com/yeonjoon13/nearby-flights/internal/poller"
)

// keyState is the last nearest aircraft seen for one poller key.
type keyState struct {
	Hex      string
	Flight   string
	Seen     time.Time
	Messages int
}

// tracker remembers the latest snapshot per key and notices when the
// nearest aircraft changes.
type tracker struct {
	clock quartz.Clock
	mu    sync.Mutex
	keys  map[poller.Key]*keyState
}

func newTracker(clock quartz.Clock) *tracker {
	return &tracker{clock: clock, keys: make(map[poller.Key]*keyState)}
}

// observe records msg and reports whether the nearest aircraft differs
// from the previous message for the same key.
func (t *tracker) observe(msg kafka.SnapshotMessage) (keyState, bool) {
	hex, flight := "", ""
	if n := msg.Snapshot.Nearest; n != nil {
		hex, flight = n.Hex, n.Flight
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.keys[msg.Key]
	if !ok {
		st = &keyState{}
		t.keys[msg.Key] = st
	}
	changed := !ok || st.Hex != hex
	st.Hex, st.Flight = hex, flight
	st.Seen = t.clock.Now()
	st.Messages++
	return *st, changed
}

// evict drops keys with no message for longer than maxAge.
func (t *tracker) evict(maxAge time.Duration) int {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for k, st := range t.keys {
		if now.Sub(st.Seen) > maxAge {
			delete(t.keys, k)
			removed++
		}
	}
	return removed
}

func (t *tracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}
