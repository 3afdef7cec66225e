package poller

import (
	"context"
	"errors"
	"strings"

	"github.com/yeonjoon13/nearby-flights/internal/adsb"
	"github.com/yeonjoon13/nearby-flights/internal/logging"
	"github.com/yeonjoon13/nearby-flights/internal/model"
	"github.com/yeonjoon13/nearby-flights/internal/workpool"
)

var errNoCallsignRecord = errors.New("no callsign record")

// lookupCallsign fetches and caches callsign metadata. The cache is
// checked again first because another loop may have filled it while this
// one waited for a token.
func (c *Cycle) lookupCallsign(ctx context.Context, cs string) (model.CallsignInfo, error) {
	if ci, ok := c.callsigns.Get(cs); ok {
		return ci, nil
	}
	raw, err := c.upstream.Callsign(ctx, cs)
	if err != nil {
		return model.CallsignInfo{}, err
	}
	if raw == nil {
		return model.CallsignInfo{}, errNoCallsignRecord
	}
	ci := model.CallsignInfoFrom(raw)
	c.callsigns.Set(cs, ci, c.cfg.CallsignTTL)
	return ci, nil
}

// enrichOthers fills callsign and route data into list in place. Callsign
// lookups run through the bounded runner, one per distinct callsign; the
// remaining route misses go out as a single batched route-set request.
func (c *Cycle) enrichOthers(ctx context.Context, list []model.Aircraft, baseLat, baseLon float64) {
	if len(list) == 0 {
		return
	}

	byCallsign := make(map[string][]int)
	var pending []string
	for i := range list {
		cs := list[i].CallsignKey()
		if cs == "" {
			continue
		}
		if ci, ok := c.callsigns.Get(cs); ok {
			list[i].MergeCallsign(ci)
			continue
		}
		if _, seen := byCallsign[cs]; !seen {
			pending = append(pending, cs)
		}
		byCallsign[cs] = append(byCallsign[cs], i)
	}

	results := workpool.Run(ctx, pending, c.cfg.EnrichConcurrency, c.lookupCallsign)
	for j, res := range results {
		if res.Err != nil {
			logging.Ctx(ctx).Debug().Err(res.Err).Str("callsign", pending[j]).Msg("callsign enrichment skipped")
			continue
		}
		for _, i := range byCallsign[pending[j]] {
			list[i].MergeCallsign(res.Value)
		}
	}

	c.enrichOthersRoutes(ctx, list, baseLat, baseLon)
}

func (c *Cycle) enrichOthersRoutes(ctx context.Context, list []model.Aircraft, baseLat, baseLon float64) {
	byCallsign := make(map[string][]int)
	var queries []adsb.PlaneQuery
	for i := range list {
		a := &list[i]
		cs := a.CallsignKey()
		if cs == "" || !a.NeedsRoute() {
			continue
		}
		if r, ok := c.routes.Get(cs); ok {
			a.MergeRoute(&r, c.resolve)
			continue
		}
		if _, seen := byCallsign[cs]; !seen {
			queries = append(queries, planeQuery(cs, a, baseLat, baseLon))
		}
		byCallsign[cs] = append(byCallsign[cs], i)
	}
	if len(queries) == 0 {
		return
	}

	routes, err := c.upstream.Routeset(ctx, queries)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Int("planes", len(queries)).Msg("batched route enrichment skipped")
		return
	}
	for k := range routes {
		r := routes[k]
		cs := strings.TrimSpace(r.Callsign)
		if cs == "" {
			continue
		}
		c.routes.Set(cs, r, c.cfg.RoutesetTTL)
		for _, i := range byCallsign[cs] {
			list[i].MergeRoute(&r, c.resolve)
		}
	}
}
