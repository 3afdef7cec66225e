package poller

import (
	"context"
	"sort"
	"time"

	"github.com/coder/quartz"

	"github.com/yeonjoon13/nearby-flights/internal/adsb"
	"github.com/yeonjoon13/nearby-flights/internal/cache"
	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/model"
)

// Upstream is the subset of the ADS-B client a cycle needs.
type Upstream interface {
	Closest(ctx context.Context, lat, lon, radius float64) (*adsb.AircraftResponse, error)
	Point(ctx context.Context, lat, lon, radius float64) (*adsb.AircraftResponse, error)
	Callsign(ctx context.Context, callsign string) (*model.RawAircraft, error)
	Routeset(ctx context.Context, planes []adsb.PlaneQuery) ([]model.Route, error)
}

// AirlineResolver maps a carrier code to a display name, "" if unknown.
type AirlineResolver interface {
	Resolve(code string) string
}

// Sink receives every snapshot broadcast to a key that still has subscribers.
type Sink interface {
	Publish(ctx context.Context, key Key, snap model.Snapshot) error
}

// CycleConfig holds the tunables of a cycle.
type CycleConfig struct {
	OthersInterval    time.Duration
	OthersLimit       int
	EnrichConcurrency int
	CallsignTTL       time.Duration
	RoutesetTTL       time.Duration
}

// Cycle is the Runner that fetches the nearest aircraft, enriches it,
// refreshes the nearby list on its slower cadence and broadcasts the result.
type Cycle struct {
	cfg       CycleConfig
	upstream  Upstream
	callsigns *cache.TTL[model.CallsignInfo]
	routes    *cache.TTL[model.Route]
	airlines  AirlineResolver
	sink      Sink
	clock     quartz.Clock
}

type CycleOption func(*Cycle)

func WithCycleClock(clock quartz.Clock) CycleOption {
	return func(c *Cycle) { c.clock = clock }
}

func WithAirlines(r AirlineResolver) CycleOption {
	return func(c *Cycle) { c.airlines = r }
}

func WithSink(s Sink) CycleOption {
	return func(c *Cycle) { c.sink = s }
}

func NewCycle(cfg CycleConfig, upstream Upstream, callsigns *cache.TTL[model.CallsignInfo], routes *cache.TTL[model.Route], opts ...CycleOption) *Cycle {
	if cfg.EnrichConcurrency < 1 {
		cfg.EnrichConcurrency = 1
	}
	if cfg.OthersLimit < 0 {
		cfg.OthersLimit = 0
	}
	c := &Cycle{
		cfg:       cfg,
		upstream:  upstream,
		callsigns: callsigns,
		routes:    routes,
		clock:     quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cycle) Run(ctx context.Context, st *State) {
	log := logging.Ctx(ctx).With().Str("key", string(st.key)).Logger()

	resp, err := c.upstream.Closest(ctx, st.lat, st.lon, st.radius)
	if err != nil {
		log.Warn().Err(err).Msg("closest fetch failed")
		others, total, _ := st.Others()
		snap := model.Snapshot{Nearest: nil, Others: others, OthersTotal: total, Now: c.clock.Now().UnixMilli()}
		st.recordSnapshot(snap)
		st.Broadcast(model.UpdateEvent(snap))
		st.Broadcast(model.ErrorEvent("upstream unavailable", err.Error()))
		return
	}

	var nearest *model.Aircraft
	if len(resp.AC) > 0 {
		nearest = model.Sanitize(&resp.AC[0])
	}
	if nearest != nil {
		c.enrichNearest(ctx, st, nearest)
	}

	c.refreshOthers(ctx, st, nearest)

	others, total, _ := st.Others()
	if len(others) > c.cfg.OthersLimit {
		others = others[:c.cfg.OthersLimit]
	}
	now := resp.NowMillis()
	if now == 0 {
		now = c.clock.Now().UnixMilli()
	}
	snap := model.Snapshot{Nearest: nearest, Others: others, OthersTotal: total, Now: now}
	st.recordSnapshot(snap)
	st.Broadcast(model.UpdateEvent(snap))

	if c.sink != nil && st.SubscriberCount() > 0 {
		if err := c.sink.Publish(ctx, st.key, snap); err != nil {
			log.Warn().Err(err).Msg("snapshot publish failed")
		}
	}
}

func (c *Cycle) enrichNearest(ctx context.Context, st *State, ac *model.Aircraft) {
	if cs := ac.CallsignKey(); cs != "" {
		if ci, err := c.lookupCallsign(ctx, cs); err == nil {
			ac.MergeCallsign(ci)
		} else {
			logging.Ctx(ctx).Debug().Err(err).Str("callsign", cs).Msg("callsign enrichment skipped")
		}

		if ac.NeedsRoute() {
			c.enrichNearestRoute(ctx, st, ac, cs)
		}
	}
	ac.Thumb = model.ThumbPath(ac.Type)
}

func (c *Cycle) enrichNearestRoute(ctx context.Context, st *State, ac *model.Aircraft, cs string) {
	if r, ok := c.routes.Get(cs); ok {
		ac.MergeRoute(&r, c.resolve)
		return
	}
	routes, err := c.upstream.Routeset(ctx, []adsb.PlaneQuery{planeQuery(cs, ac, st.lat, st.lon)})
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("callsign", cs).Msg("route enrichment skipped")
		return
	}
	if len(routes) == 0 {
		return
	}
	c.routes.Set(cs, routes[0], c.cfg.RoutesetTTL)
	ac.MergeRoute(&routes[0], c.resolve)
}

func (c *Cycle) refreshOthers(ctx context.Context, st *State, nearest *model.Aircraft) {
	_, _, last := st.Others()
	if !last.IsZero() && c.clock.Since(last) < c.cfg.OthersInterval {
		return
	}

	resp, err := c.upstream.Point(ctx, st.lat, st.lon, st.radius)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", string(st.key)).Msg("point fetch failed, keeping cached others")
		return
	}

	list := make([]model.Aircraft, 0, len(resp.AC))
	for i := range resp.AC {
		if a := model.Sanitize(&resp.AC[i]); a.HasPosition() {
			list = append(list, *a)
		}
	}
	total := len(resp.AC)

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].DistanceFrom(st.lat, st.lon) < list[j].DistanceFrom(st.lat, st.lon)
	})

	out := make([]model.Aircraft, 0, c.cfg.OthersLimit)
	for _, a := range list {
		if len(out) >= c.cfg.OthersLimit {
			break
		}
		if nearest != nil && nearest.Hex != "" && a.Hex == nearest.Hex {
			continue
		}
		out = append(out, a)
	}

	c.enrichOthers(ctx, out, st.lat, st.lon)
	st.SetOthers(out, total, c.clock.Now())
}

func (c *Cycle) resolve(code string) string {
	if c.airlines == nil {
		return ""
	}
	return c.airlines.Resolve(code)
}

func planeQuery(cs string, ac *model.Aircraft, baseLat, baseLon float64) adsb.PlaneQuery {
	q := adsb.PlaneQuery{Callsign: cs, Lat: baseLat, Lng: baseLon}
	if ac.Lat != nil {
		q.Lat = *ac.Lat
	}
	if ac.Lon != nil {
		q.Lng = *ac.Lon
	}
	return q
}
