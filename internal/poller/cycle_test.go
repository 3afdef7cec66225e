package poller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/yeonjoon13/nearby-flights/internal/adsb"
	"github.com/yeonjoon13/nearby-flights/internal/cache"
	"github.com/yeonjoon13/nearby-flights/internal/model"
	"github.com/yeonjoon13/nearby-flights/internal/testutil"
)

type fakeUpstream struct {
	mu        sync.Mutex
	closest   string
	closestEr error
	point     string
	pointErr  error
	callsigns map[string]string
	routes    map[string]model.Route
	calls     map[string]int
	batches   [][]adsb.PlaneQuery
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		callsigns: map[string]string{},
		routes:    map[string]model.Route{},
		calls:     map[string]int{},
	}
}

func decodeResp(s string) (*adsb.AircraftResponse, error) {
	var r adsb.AircraftResponse
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (f *fakeUpstream) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func (f *fakeUpstream) Closest(context.Context, float64, float64, float64) (*adsb.AircraftResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[adsb.EndpointClosest]++
	if f.closestEr != nil {
		return nil, f.closestEr
	}
	return decodeResp(f.closest)
}

func (f *fakeUpstream) Point(context.Context, float64, float64, float64) (*adsb.AircraftResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[adsb.EndpointPoint]++
	if f.pointErr != nil {
		return nil, f.pointErr
	}
	return decodeResp(f.point)
}

func (f *fakeUpstream) Callsign(_ context.Context, cs string) (*model.RawAircraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[adsb.EndpointCallsign]++
	body, ok := f.callsigns[cs]
	if !ok {
		return nil, nil
	}
	var raw model.RawAircraft
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

func (f *fakeUpstream) Routeset(_ context.Context, planes []adsb.PlaneQuery) ([]model.Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[adsb.EndpointRouteset]++
	f.batches = append(f.batches, planes)
	var out []model.Route
	for _, p := range planes {
		if r, ok := f.routes[p.Callsign]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubAirlines map[string]string

func (s stubAirlines) Resolve(code string) string { return s[code] }

type recordingSub struct {
	id     string
	err    error
	mu     sync.Mutex
	events []model.Event
}

func (s *recordingSub) ID() string { return s.id }

func (s *recordingSub) Deliver(ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSub) last(t *testing.T) model.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.events)
	return s.events[len(s.events)-1]
}

func (s *recordingSub) all() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

type recordingSink struct {
	mu    sync.Mutex
	snaps map[Key]int
}

func (s *recordingSink) Publish(_ context.Context, key Key, _ model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snaps == nil {
		s.snaps = map[Key]int{}
	}
	s.snaps[key]++
	return nil
}

func (s *recordingSink) count(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[key]
}

var testCycleConfig = CycleConfig{
	OthersInterval:    20 * time.Second,
	OthersLimit:       2,
	EnrichConcurrency: 3,
	CallsignTTL:       time.Minute,
	RoutesetTTL:       2 * time.Minute,
}

func newTestCycle(t *testing.T, up Upstream, opts ...CycleOption) (*Cycle, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.UnixMilli(1_800_000_000_000)).MustWait(context.Background())
	opts = append([]CycleOption{WithCycleClock(clock)}, opts...)
	c := NewCycle(testCycleConfig, up,
		cache.NewTTL[model.CallsignInfo]("callsign", clock),
		cache.NewTTL[model.Route]("routeset", clock),
		opts...)
	return c, clock
}

func newTestState(subs ...Subscriber) *State {
	st := newState(MakeKey(51.5, -0.1, 250), 51.5, -0.1, 250)
	for _, s := range subs {
		st.addSub(s)
	}
	return st
}

const pointBody = `{"ac":[
	{"hex":"far","flight":"FAR1","lat":52.5,"lon":-0.1},
	{"hex":"near1","flight":"EZY1","lat":51.51,"lon":-0.1},
	{"hex":"nopos","flight":"NOPOS"},
	{"hex":"n0","flight":"BAW1","lat":51.5,"lon":-0.1,"dst":0.1},
	{"hex":"near2","flight":"RYR2","lat":51.6,"lon":-0.1,"dst":5}
]}`

func TestCycle_FullEnrichment(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	up := newFakeUpstream()
	up.closest = `{"ac":[{"hex":"n0","flight":"BAW1  ","t":"b77w","lat":51.5,"lon":-0.1}],"now":1700000001234}`
	up.point = pointBody
	up.callsigns["BAW1"] = `{"o":"LHR","d":"JFK","r":"G-STBA"}`
	up.callsigns["EZY1"] = `{"operator":"easyJet"}`
	up.routes["BAW1"] = model.Route{Callsign: "BAW1", AirlineCode: "BAW", Airports: []model.RouteAirport{
		{Location: "London", Name: "Heathrow", IATA: "LHR", CountryISO2: "GB"},
		{Location: "New York", Name: "JFK", ICAO: "KJFK", CountryISO2: "US"},
	}}
	up.routes["RYR2"] = model.Route{Callsign: "RYR2", AirlineCode: "RYR", Airports: []model.RouteAirport{{IATA: "STN"}, {IATA: "DUB"}}}

	c, _ := newTestCycle(t, up, WithAirlines(stubAirlines{"BAW": "British Airways", "RYR": "Ryanair"}))
	bad := &recordingSub{id: "bad", err: errors.New("closed")}
	good := &recordingSub{id: "good"}
	st := newTestState(bad, good)

	c.Run(ctx, st)

	for _, sub := range []*recordingSub{bad, good} {
		ev := sub.last(t)
		require.Equal(t, model.EventUpdate, ev.Type)
		snap := ev.Data.(model.Snapshot)
		require.Equal(t, int64(1700000001234), snap.Now)

		n := snap.Nearest
		require.NotNil(t, n)
		require.Equal(t, "BAW1", n.Flight)
		require.Equal(t, "LHR", n.From)
		require.Equal(t, "JFK", n.To)
		require.Equal(t, "G-STBA", n.Reg)
		require.Equal(t, "British Airways (BAW)", n.Airline)
		require.Equal(t, "KJFK", n.ToObj.IATA)
		require.Equal(t, "/api/docimg/B77W.jpg", n.Thumb)

		require.Equal(t, 5, snap.OthersTotal)
		require.Len(t, snap.Others, 2)
		require.Equal(t, "near1", snap.Others[0].Hex)
		require.Equal(t, "near2", snap.Others[1].Hex)
		require.Equal(t, "easyJet", snap.Others[0].Airline)
		require.Equal(t, "Ryanair (RYR)", snap.Others[1].Airline)
		require.Equal(t, "STN", snap.Others[1].FromObj.IATA)
	}

	info := st.info()
	require.Equal(t, 2, info.CachedOthers)
	require.Equal(t, 5, info.OthersTotal)
	require.Equal(t, int64(1_800_000_000_000), info.LastOthersFetch)
}

func TestCycle_UpstreamFailureBroadcastsNullAndError(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	up := newFakeUpstream()
	up.closestEr = &adsb.StatusError{Endpoint: adsb.EndpointClosest, Status: 503}
	c, clock := newTestCycle(t, up)
	sub := &recordingSub{id: "s"}
	st := newTestState(sub)
	cached := []model.Aircraft{{Hex: "old"}}
	st.SetOthers(cached, 7, clock.Now())

	c.Run(ctx, st)

	events := sub.all()
	require.Len(t, events, 2)
	require.Equal(t, model.EventUpdate, events[0].Type)
	snap := events[0].Data.(model.Snapshot)
	require.Nil(t, snap.Nearest)
	require.Equal(t, cached, snap.Others)
	require.Equal(t, 7, snap.OthersTotal)
	require.Equal(t, clock.Now().UnixMilli(), snap.Now)

	require.Equal(t, model.EventError, events[1].Type)
	require.Equal(t, "upstream unavailable", events[1].Data.(model.ErrorPayload).Message)
	require.Contains(t, events[1].Data.(model.ErrorPayload).Detail, "503")

	require.Equal(t, 0, up.count(adsb.EndpointPoint))
	require.Equal(t, 0, up.count(adsb.EndpointCallsign))
}

func TestCycle_OthersRefreshCadence(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	up := newFakeUpstream()
	up.closest = `{"ac":[]}`
	up.point = `{"ac":[{"hex":"x","lat":51.5,"lon":-0.1}]}`
	c, clock := newTestCycle(t, up)
	st := newTestState(&recordingSub{id: "s"})

	c.Run(ctx, st)
	require.Equal(t, 1, up.count(adsb.EndpointPoint))

	clock.Advance(19 * time.Second)
	c.Run(ctx, st)
	require.Equal(t, 1, up.count(adsb.EndpointPoint))

	clock.Advance(time.Second)
	c.Run(ctx, st)
	require.Equal(t, 2, up.count(adsb.EndpointPoint))
	require.Equal(t, 3, up.count(adsb.EndpointClosest))
}

func TestCycle_FailedPointKeepsCachedOthers(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	up := newFakeUpstream()
	up.closest = `{"ac":[]}`
	up.pointErr = errors.New("connection reset")
	c, _ := newTestCycle(t, up)
	sub := &recordingSub{id: "s"}
	st := newTestState(sub)
	st.SetOthers([]model.Aircraft{{Hex: "kept"}}, 3, time.Time{})

	c.Run(ctx, st)

	snap := sub.last(t).Data.(model.Snapshot)
	require.Nil(t, snap.Nearest)
	require.Len(t, snap.Others, 1)
	require.Equal(t, "kept", snap.Others[0].Hex)
	require.Equal(t, 3, snap.OthersTotal)
	_, _, last := st.Others()
	require.True(t, last.IsZero(), "a failed refresh must be retried next cycle")
}

func TestCycle_CallsignCacheAvoidsRepeatLookups(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	up := newFakeUpstream()
	up.closest = `{"ac":[{"hex":"n0","flight":"BAW1"}]}`
	up.point = `{"ac":[]}`
	up.callsigns["BAW1"] = `{"o":"LHR"}`
	c, clock := newTestCycle(t, up)
	st := newTestState(&recordingSub{id: "s"})

	c.Run(ctx, st)
	c.Run(ctx, st)
	require.Equal(t, 1, up.count(adsb.EndpointCallsign))

	clock.Advance(time.Minute)
	c.Run(ctx, st)
	require.Equal(t, 2, up.count(adsb.EndpointCallsign))
}

func TestCycle_DuplicateCallsignsCostOneRequest(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	up := newFakeUpstream()
	up.closest = `{"ac":[]}`
	up.point = `{"ac":[
		{"hex":"a","flight":"DUP1","lat":51.5,"lon":-0.1},
		{"hex":"b","flight":"DUP1 ","lat":51.6,"lon":-0.1},
		{"hex":"c","flight":"SOLO","lat":51.7,"lon":-0.1}
	]}`
	up.callsigns["DUP1"] = `{"operator":"Dup Air"}`
	up.routes["DUP1"] = model.Route{Callsign: "DUP1", Airports: []model.RouteAirport{{IATA: "AAA"}, {IATA: "BBB"}}}

	c, _ := newTestCycle(t, up)
	c.cfg.OthersLimit = 10
	sub := &recordingSub{id: "s"}
	st := newTestState(sub)

	c.Run(ctx, st)

	require.Equal(t, 2, up.count(adsb.EndpointCallsign))
	require.Equal(t, 1, up.count(adsb.EndpointRouteset))
	require.Len(t, up.batches, 1)
	var callsigns []string
	for _, q := range up.batches[0] {
		callsigns = append(callsigns, q.Callsign)
	}
	sort.Strings(callsigns)
	require.Equal(t, []string{"DUP1", "SOLO"}, callsigns)

	snap := sub.last(t).Data.(model.Snapshot)
	require.Equal(t, "Dup Air", snap.Others[0].Airline)
	require.Equal(t, "Dup Air", snap.Others[1].Airline)
	require.Equal(t, "BBB", snap.Others[1].ToObj.IATA)
	require.Nil(t, snap.Others[2].FromObj)
}

func TestCycle_NoNearestStillRefreshesOthers(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	up := newFakeUpstream()
	up.closest = `{"ac":[]}`
	up.point = `{"ac":[{"hex":"x","lat":51.5,"lon":-0.1}]}`
	c, clock := newTestCycle(t, up)
	sub := &recordingSub{id: "s"}
	st := newTestState(sub)

	c.Run(ctx, st)

	snap := sub.last(t).Data.(model.Snapshot)
	require.Nil(t, snap.Nearest)
	require.Len(t, snap.Others, 1)
	require.Equal(t, clock.Now().UnixMilli(), snap.Now)
	require.Equal(t, snap, st.CurrentSnapshot(0))
}

func TestCycle_SinkOnlyWithSubscribers(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	up := newFakeUpstream()
	up.closest = `{"ac":[]}`
	up.point = `{"ac":[]}`
	sink := &recordingSink{}
	c, _ := newTestCycle(t, up, WithSink(sink))

	sub := &recordingSub{id: "s"}
	st := newTestState(sub)
	c.Run(ctx, st)
	require.Equal(t, 1, sink.count(st.Key()))

	st.removeSub(sub)
	c.Run(ctx, st)
	require.Equal(t, 1, sink.count(st.Key()))
}
