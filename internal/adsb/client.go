// Package adsb talks to the ADS-B aggregator API (api.adsb.lol compatible)
// and the aircraft type image host. Every request passes through a circuit
// breaker and the shared outbound token bucket.
package adsb

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/yeonjoon13/nearby-flights/internal/model"
)

// Endpoint labels used in logs and metrics.
const (
	EndpointClosest  = "closest"
	EndpointPoint    = "point"
	EndpointCallsign = "callsign"
	EndpointRouteset = "routeset"
	EndpointImage    = "docimg"
)

// AircraftResponse is the envelope of the closest, point and callsign endpoints.
type AircraftResponse struct {
	AC    []model.RawAircraft `json:"ac"`
	Now   float64             `json:"now"`
	Total *int                `json:"total"`
}

// NowMillis returns the upstream timestamp in epoch ms, or 0 if absent.
func (r *AircraftResponse) NowMillis() int64 {
	if r == nil {
		return 0
	}
	return int64(r.Now)
}

// PlaneQuery is one entry of a route-set request.
type PlaneQuery struct {
	Callsign string  `json:"callsign"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type Client struct {
	baseURL string
	t       *transport
}

func New(baseURL string, limiter Limiter, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		t:       newTransport("adsb-api", limiter, o),
	}
}

func coord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Closest returns the single aircraft nearest to the point, if any.
func (c *Client) Closest(ctx context.Context, lat, lon, radius float64) (*AircraftResponse, error) {
	u := fmt.Sprintf("%s/v2/closest/%s/%s/%s", c.baseURL, coord(lat), coord(lon), coord(radius))
	return c.getAircraft(ctx, EndpointClosest, u)
}

// Point returns every aircraft within radius of the point.
func (c *Client) Point(ctx context.Context, lat, lon, radius float64) (*AircraftResponse, error) {
	u := fmt.Sprintf("%s/v2/point/%s/%s/%s", c.baseURL, coord(lat), coord(lon), coord(radius))
	return c.getAircraft(ctx, EndpointPoint, u)
}

// Callsign returns the first record known for callsign, or nil when
// upstream has none.
func (c *Client) Callsign(ctx context.Context, callsign string) (*model.RawAircraft, error) {
	u := fmt.Sprintf("%s/v2/callsign/%s", c.baseURL, url.PathEscape(callsign))
	resp, err := c.getAircraft(ctx, EndpointCallsign, u)
	if err != nil {
		return nil, err
	}
	if len(resp.AC) == 0 {
		return nil, nil
	}
	return &resp.AC[0], nil
}

// Routeset resolves routes for a batch of planes in one request.
func (c *Client) Routeset(ctx context.Context, planes []PlaneQuery) ([]model.Route, error) {
	if len(planes) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(struct {
		Planes []PlaneQuery `json:"planes"`
	}{Planes: planes})
	if err != nil {
		return nil, fmt.Errorf("encode routeset request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/0/routeset", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.t.do(ctx, EndpointRouteset, req)
	if err != nil {
		return nil, err
	}
	var routes []model.Route
	if err := json.Unmarshal(resp.body, &routes); err != nil {
		return nil, fmt.Errorf("decode routeset response: %w", err)
	}
	return routes, nil
}

func (c *Client) getAircraft(ctx context.Context, endpoint, u string) (*AircraftResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.t.do(ctx, endpoint, req)
	if err != nil {
		return nil, err
	}
	var out AircraftResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return &out, nil
}
