// Package poller owns the per-key polling loops. Subscribers that resolve
// to the same Key share one loop; the loop stops when its last subscriber
// leaves.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/metrics"
)

// Runner executes one fetch-enrich-broadcast cycle for a State.
type Runner interface {
	Run(ctx context.Context, st *State)
}

type RegistryOption func(*Registry)

func WithClock(clock quartz.Clock) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

type Registry struct {
	clock    quartz.Clock
	interval time.Duration
	runner   Runner

	// cycles run on baseCtx so removing a key never aborts a request
	// already in flight; only Close cancels it.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	pollers map[Key]*State
	closed  bool
}

func NewRegistry(runner Runner, interval time.Duration, opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		clock:      quartz.NewReal(),
		interval:   interval,
		runner:     runner,
		baseCtx:    ctx,
		baseCancel: cancel,
		pollers:    make(map[Key]*State),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsurePoller returns the State for key, creating it and starting its loop
// if needed. Concurrent calls for one key create a single loop.
func (r *Registry) EnsurePoller(key Key, lat, lon, radius float64) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(key, lat, lon, radius)
}

// Attach ensures the poller for key exists and adds sub to it in one step,
// so a concurrent Detach cannot tear the loop down in between.
func (r *Registry) Attach(key Key, lat, lon, radius float64, sub Subscriber) *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ensureLocked(key, lat, lon, radius)
	if st.addSub(sub) {
		metrics.Subscribers.Inc()
	}
	return st
}

// Detach removes sub from key and stops the loop when nobody is left.
// It reports whether the loop was stopped.
func (r *Registry) Detach(key Key, sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.pollers[key]
	if !ok {
		return false
	}
	removed, remaining := st.removeSub(sub)
	if removed {
		metrics.Subscribers.Dec()
	}
	if remaining > 0 {
		return false
	}
	st.stop()
	delete(r.pollers, key)
	metrics.ActivePollers.Dec()
	logging.Info().Str("key", string(key)).Msg("poller stopped and removed")
	return true
}

// Lookup returns the live State for key, if any.
func (r *Registry) Lookup(key Key) (*State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.pollers[key]
	return st, ok
}

// Diagnostics is a point-in-time view of every live poller.
func (r *Registry) Diagnostics() map[Key]PollerInfo {
	r.mu.Lock()
	states := make([]*State, 0, len(r.pollers))
	for _, st := range r.pollers {
		states = append(states, st)
	}
	r.mu.Unlock()

	out := make(map[Key]PollerInfo, len(states))
	for _, st := range states {
		out[st.key] = st.info()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pollers)
}

// Close stops every loop, cancels in-flight cycles and waits for them.
// The registry creates no new loops afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.closed = true
	for key, st := range r.pollers {
		st.stop()
		delete(r.pollers, key)
		metrics.ActivePollers.Dec()
	}
	r.mu.Unlock()

	r.baseCancel()
	r.wg.Wait()
}

// Serve blocks until ctx is done, then closes the registry.
func (r *Registry) Serve(ctx context.Context) error {
	<-ctx.Done()
	r.Close()
	return ctx.Err()
}

func (r *Registry) String() string { return "poller-registry" }

func (r *Registry) ensureLocked(key Key, lat, lon, radius float64) *State {
	if st, ok := r.pollers[key]; ok {
		return st
	}
	st := newState(key, lat, lon, radius)
	if r.closed {
		// a closed registry hands out inert states
		st.stop = func() {}
		return st
	}
	r.start(st)
	r.pollers[key] = st
	metrics.ActivePollers.Inc()
	logging.Info().Str("key", string(key)).Float64("lat", lat).Float64("lon", lon).Float64("radius", radius).Msg("poller started")
	return st
}

func (r *Registry) start(st *State) {
	loopCtx, cancel := context.WithCancel(r.baseCtx)
	ticker := r.clock.NewTicker(r.interval, "Registry", "poll")
	st.stop = func() {
		ticker.Stop()
		cancel()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.cycle(st)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				// a tick that lands while a cycle runs is buffered once and
				// otherwise dropped, so cycles on one key never overlap
				if loopCtx.Err() != nil {
					return
				}
				r.cycle(st)
			}
		}
	}()
}

func (r *Registry) cycle(st *State) {
	ctx := logging.ContextWithCorrelationID(r.baseCtx, logging.NewCorrelationID())
	start := r.clock.Now()
	r.runner.Run(ctx, st)
	metrics.CycleDuration.Observe(r.clock.Since(start).Seconds())
}
