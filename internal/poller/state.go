package poller

import (
	"sync"
	"time"

	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/metrics"
	"github.com/yeonjoon13/nearby-flights/internal/model"
)

// Subscriber receives events for the key it is attached to. Deliver must
// not block for long; it is called from the polling loop.
type Subscriber interface {
	ID() string
	Deliver(model.Event) error
}

// PollerInfo is the diagnostics view of one State.
type PollerInfo struct {
	Subs            int   `json:"subs"`
	LastOthersFetch int64 `json:"lastOthersFetch"`
	CachedOthers    int   `json:"cachedOthers"`
	OthersTotal     int   `json:"othersTotal"`
}

// State is the per-key polling state shared by every subscriber of the key.
type State struct {
	key    Key
	lat    float64
	lon    float64
	radius float64

	stop func()

	mu              sync.Mutex
	subs            map[string]Subscriber
	lastOthersFetch time.Time
	cachedOthers    []model.Aircraft
	othersTotal     int
	last            *model.Snapshot
}

func newState(key Key, lat, lon, radius float64) *State {
	return &State{
		key:          key,
		lat:          lat,
		lon:          lon,
		radius:       radius,
		subs:         make(map[string]Subscriber),
		cachedOthers: []model.Aircraft{},
	}
}

func (s *State) Key() Key { return s.key }
func (s *State) Lat() float64 { return s.lat }
func (s *State) Lon() float64 { return s.lon }
func (s *State) Radius() float64 { return s.radius }

func (s *State) addSub(sub Subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID()]; ok {
		return false
	}
	s.subs[sub.ID()] = sub
	return true
}

// removeSub returns whether sub was present and how many remain.
func (s *State) removeSub(sub Subscriber) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[sub.ID()]
	delete(s.subs, sub.ID())
	return ok, len(s.subs)
}

func (s *State) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Others returns the cached nearby list, its pre-truncation total and when
// it was fetched. The slice must not be modified.
func (s *State) Others() ([]model.Aircraft, int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cachedOthers, s.othersTotal, s.lastOthersFetch
}

// SetOthers replaces the cached nearby list. others is owned by the State afterwards.
func (s *State) SetOthers(others []model.Aircraft, total int, at time.Time) {
	if others == nil {
		others = []model.Aircraft{}
	}
	s.mu.Lock()
	s.cachedOthers = others
	s.othersTotal = total
	s.lastOthersFetch = at
	s.mu.Unlock()
}

func (s *State) recordSnapshot(snap model.Snapshot) {
	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()
}

// CurrentSnapshot is what a new subscriber is shown: the last broadcast if
// there was one, else a null nearest with whatever others are cached.
func (s *State) CurrentSnapshot(nowMillis int64) model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil {
		return *s.last
	}
	return model.Snapshot{
		Nearest:     nil,
		Others:      s.cachedOthers,
		OthersTotal: s.othersTotal,
		Now:         nowMillis,
	}
}

// Broadcast delivers ev to every current subscriber. A failing subscriber
// does not affect the others.
func (s *State) Broadcast(ev model.Event) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	metrics.Broadcasts.WithLabelValues(ev.Type).Inc()
	for _, sub := range subs {
		if err := sub.Deliver(ev); err != nil {
			metrics.DeliveryFailures.Inc()
			logging.Debug().Err(err).Str("key", string(s.key)).Str("subscriber", sub.ID()).Msg("delivery failed")
		}
	}
}

func (s *State) info() PollerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last int64
	if !s.lastOthersFetch.IsZero() {
		last = s.lastOthersFetch.UnixMilli()
	}
	return PollerInfo{
		Subs:            len(s.subs),
		LastOthersFetch: last,
		CachedOthers:    len(s.cachedOthers),
		OthersTotal:     s.othersTotal,
	}
}
