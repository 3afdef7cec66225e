// Package subscription maps each connected subscriber to at most one
// poller key and moves it between keys as it re-subscribes.
package subscription

import (
	"errors"
	"fmt"
	"sync"

	"github.com/coder/quartz"
	"github.com/go-playground/validator/v10"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/model"
	"github.com/yeonjoon13/nearby-flights/internal/poller"
)

// ErrInvalidLocation is returned when the resolved query point is off the globe.
var ErrInvalidLocation = errors.New("invalid location")

// Registry is the poller registry surface the manager uses.
type Registry interface {
	Attach(key poller.Key, lat, lon, radius float64, sub poller.Subscriber) *poller.State
	Detach(key poller.Key, sub poller.Subscriber) bool
}

// Location holds the fallback point and the optional per-axis override.
type Location struct {
	DefaultLat    float64
	DefaultLon    float64
	DefaultRadius float64
	OverrideLat   *float64
	OverrideLon   *float64
}

// Request is a subscribe request. Nil fields fall back to defaults.
// PollMS is accepted for compatibility and ignored.
type Request struct {
	Lat    *float64
	Lon    *float64
	Radius *float64
	PollMS *float64
}

type point struct {
	Lat    float64 `validate:"latitude"`
	Lon    float64 `validate:"longitude"`
	Radius float64 `validate:"gt=0"`
}

type Manager struct {
	reg      Registry
	loc      Location
	clock    quartz.Clock
	validate *validator.Validate

	mu   sync.Mutex
	keys map[string]poller.Key
}

type Option func(*Manager)

func WithClock(clock quartz.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

func NewManager(reg Registry, loc Location, opts ...Option) *Manager {
	m := &Manager{
		reg:      reg,
		loc:      loc,
		clock:    quartz.NewReal(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		keys:     make(map[string]poller.Key),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Resolve picks the query point for req: override, then client value,
// then default, independently per axis. Radius comes from the client when
// positive.
func (m *Manager) Resolve(req Request) (lat, lon, radius float64) {
	lat, lon, radius = m.loc.DefaultLat, m.loc.DefaultLon, m.loc.DefaultRadius
	switch {
	case m.loc.OverrideLat != nil:
		lat = *m.loc.OverrideLat
	case req.Lat != nil:
		lat = *req.Lat
	}
	switch {
	case m.loc.OverrideLon != nil:
		lon = *m.loc.OverrideLon
	case req.Lon != nil:
		lon = *req.Lon
	}
	if req.Radius != nil && *req.Radius > 0 {
		radius = *req.Radius
	}
	return lat, lon, radius
}

// Subscribe attaches sub to the key for req, leaving its previous key if
// that differs, and immediately delivers the key's current snapshot.
func (m *Manager) Subscribe(sub poller.Subscriber, req Request) (poller.Key, error) {
	lat, lon, radius := m.Resolve(req)
	if err := m.validate.Struct(point{Lat: lat, Lon: lon, Radius: radius}); err != nil {
		return "", fmt.Errorf("%w: %.6f,%.6f r=%g", ErrInvalidLocation, lat, lon, radius)
	}
	key := poller.MakeKey(lat, lon, radius)

	m.mu.Lock()
	if old, ok := m.keys[sub.ID()]; ok && old != key {
		m.reg.Detach(old, sub)
		delete(m.keys, sub.ID())
	}
	st := m.reg.Attach(key, lat, lon, radius, sub)
	m.keys[sub.ID()] = key
	m.mu.Unlock()

	if err := sub.Deliver(model.UpdateEvent(st.CurrentSnapshot(m.clock.Now().UnixMilli()))); err != nil {
		logging.Debug().Err(err).Str("subscriber", sub.ID()).Msg("initial snapshot not delivered")
	}
	logging.Info().Str("subscriber", sub.ID()).Str("key", string(key)).Msg("subscribed")
	return key, nil
}

// Unsubscribe detaches sub from its key. It reports whether sub had one.
func (m *Manager) Unsubscribe(sub poller.Subscriber) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[sub.ID()]
	if !ok {
		return false
	}
	m.reg.Detach(key, sub)
	delete(m.keys, sub.ID())
	logging.Info().Str("subscriber", sub.ID()).Str("key", string(key)).Msg("unsubscribed")
	return true
}

// Disconnect is Unsubscribe for a subscriber that is going away.
func (m *Manager) Disconnect(sub poller.Subscriber) {
	m.Unsubscribe(sub)
}

func (m *Manager) Key(sub poller.Subscriber) (poller.Key, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[sub.ID()]
	return k, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}
