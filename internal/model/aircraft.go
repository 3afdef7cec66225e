// Package model holds the aircraft, route and event shapes shared by the
// poller, the transports and the Kafka sink, plus the sanitizers that turn
// loosely typed upstream JSON into them.
package model

import (
	"math"
	"strconv"
	"strings"
)

// Airport is an origin or destination resolved from a route lookup.
type Airport struct {
	City       string `json:"city"`
	Name       string `json:"name"`
	IATA       string `json:"iata"`
	CountryISO string `json:"countryiso"`
}

// Aircraft is a sanitized position report plus optional enrichment.
// Numeric fields are nil when upstream omitted them or sent something
// that is not a finite number.
type Aircraft struct {
	Hex       string   `json:"hex"`
	Flight    string   `json:"flight"`
	Reg       string   `json:"reg,omitempty"`
	Type      string   `json:"type,omitempty"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	GS        *float64 `json:"gs"`
	TAS       *float64 `json:"tas"`
	IAS       *float64 `json:"ias"`
	AltBaro   *float64 `json:"alt_baro"`
	Track     *float64 `json:"track"`
	Heading   *float64 `json:"heading"`
	Seen      *float64 `json:"seen"`
	Dst       *float64 `json:"dst"`
	Emergency string   `json:"emergency"`

	Airline string   `json:"airline,omitempty"`
	From    string   `json:"from,omitempty"`
	To      string   `json:"to,omitempty"`
	FromObj *Airport `json:"from_obj,omitempty"`
	ToObj   *Airport `json:"to_obj,omitempty"`
	Thumb   string   `json:"thumb,omitempty"`
}

// RawAircraft is one entry of an upstream "ac" array. Every field is left
// untyped because upstream mixes strings, numbers and sentinels like
// alt_baro "ground".
type RawAircraft struct {
	Hex         any `json:"hex"`
	Flight      any `json:"flight"`
	R           any `json:"r"`
	T           any `json:"t"`
	Type        any `json:"type"`
	Lat         any `json:"lat"`
	Lon         any `json:"lon"`
	GS          any `json:"gs"`
	TAS         any `json:"tas"`
	IAS         any `json:"ias"`
	AltBaro     any `json:"alt_baro"`
	Track       any `json:"track"`
	TrueHeading any `json:"true_heading"`
	MagHeading  any `json:"mag_heading"`
	Seen        any `json:"seen"`
	Dst         any `json:"dst"`
	Emergency   any `json:"emergency"`

	// callsign lookup extras
	Airline     any `json:"airline"`
	Operator    any `json:"operator"`
	OwnOp       any `json:"ownOp"`
	From        any `json:"from"`
	O           any `json:"o"`
	Origin      any `json:"origin"`
	To          any `json:"to"`
	D           any `json:"d"`
	Destination any `json:"destination"`
}

// ToNumber converts an upstream value to a finite float. Strings are parsed;
// nil, empty strings, booleans, NaN and infinities yield nil.
func ToNumber(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case interface{ Float64() (float64, error) }:
		x, err := n.Float64()
		if err != nil {
			return nil
		}
		f = x
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return nil
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = x
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// ToString returns v as a trimmed string. Numbers are formatted so a
// numeric callsign or registration survives; anything else is "".
func ToString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case interface{ String() string }:
		return strings.TrimSpace(s.String())
	}
	return ""
}

func firstString(vs ...any) string {
	for _, v := range vs {
		if s := ToString(v); s != "" {
			return s
		}
	}
	return ""
}

// Sanitize maps a raw upstream record to an Aircraft. A nil input gives nil.
func Sanitize(raw *RawAircraft) *Aircraft {
	if raw == nil {
		return nil
	}
	heading := ToNumber(raw.TrueHeading)
	if heading == nil {
		heading = ToNumber(raw.MagHeading)
	}
	emergency := ToString(raw.Emergency)
	if emergency == "" {
		emergency = "none"
	}
	return &Aircraft{
		Hex:       ToString(raw.Hex),
		Flight:    ToString(raw.Flight),
		Reg:       ToString(raw.R),
		Type:      firstString(raw.T, raw.Type),
		Lat:       ToNumber(raw.Lat),
		Lon:       ToNumber(raw.Lon),
		GS:        ToNumber(raw.GS),
		TAS:       ToNumber(raw.TAS),
		IAS:       ToNumber(raw.IAS),
		AltBaro:   ToNumber(raw.AltBaro),
		Track:     ToNumber(raw.Track),
		Heading:   heading,
		Seen:      ToNumber(raw.Seen),
		Dst:       ToNumber(raw.Dst),
		Emergency: emergency,
	}
}

// HasPosition reports whether both coordinates are known.
func (a *Aircraft) HasPosition() bool {
	return a != nil && a.Lat != nil && a.Lon != nil
}

// CallsignKey is the trimmed flight used as the enrichment cache key.
func (a *Aircraft) CallsignKey() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.Flight)
}

// NeedsRoute reports whether either airport object is still missing.
func (a *Aircraft) NeedsRoute() bool {
	return a != nil && (a.FromObj == nil || a.ToObj == nil)
}

// ThumbPath turns an ICAO type designator into the proxied image path,
// or "" when nothing usable remains after normalization.
func ThumbPath(typ string) string {
	code := NormalizeTypeCode(typ)
	if code == "" {
		return ""
	}
	return "/api/docimg/" + code + ".jpg"
}

// NormalizeTypeCode upper-cases s and keeps only [A-Z0-9_-].
func NormalizeTypeCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const earthRadiusKm = 6371.0

// HaversineKm is the great-circle distance between two points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceFrom is the upstream dst when present, else the haversine
// distance from the query point. Aircraft without a position sort last.
func (a *Aircraft) DistanceFrom(lat, lon float64) float64 {
	if a.Dst != nil {
		return *a.Dst
	}
	if a.Lat == nil || a.Lon == nil {
		return math.Inf(1)
	}
	return HaversineKm(lat, lon, *a.Lat, *a.Lon)
}
