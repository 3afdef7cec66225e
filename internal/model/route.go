package model

import (
	"fmt"
	"strings"
)

// CallsignInfo is the subset of a callsign lookup used for enrichment.
type CallsignInfo struct {
	Airline string `json:"airline,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Reg     string `json:"reg,omitempty"`
}

// CallsignInfoFrom collapses the alias fields of a callsign lookup record.
func CallsignInfoFrom(raw *RawAircraft) CallsignInfo {
	if raw == nil {
		return CallsignInfo{}
	}
	return CallsignInfo{
		Airline: firstString(raw.Airline, raw.Operator, raw.OwnOp),
		From:    firstString(raw.From, raw.O, raw.Origin),
		To:      firstString(raw.To, raw.D, raw.Destination),
		Reg:     ToString(raw.R),
	}
}

// RouteAirport is one airport of a route-set answer.
type RouteAirport struct {
	Location    string `json:"location"`
	Name        string `json:"name"`
	IATA        string `json:"iata"`
	ICAO        string `json:"icao"`
	CountryISO2 string `json:"countryiso2"`
}

func (r RouteAirport) Airport() *Airport {
	code := r.IATA
	if code == "" {
		code = r.ICAO
	}
	return &Airport{City: r.Location, Name: r.Name, IATA: code, CountryISO: r.CountryISO2}
}

// Route is one element of a route-set answer.
type Route struct {
	Callsign    string         `json:"callsign"`
	AirlineCode string         `json:"airline_code"`
	Airports    []RouteAirport `json:"_airports"`
}

// MergeCallsign fills empty fields from a callsign lookup. Known values are kept.
func (a *Aircraft) MergeCallsign(ci CallsignInfo) {
	if a == nil {
		return
	}
	fill(&a.Airline, ci.Airline)
	fill(&a.From, ci.From)
	fill(&a.To, ci.To)
	fill(&a.Reg, ci.Reg)
}

// MergeRoute fills the airport objects and the display airline from a
// route lookup. resolve maps a carrier code to a full name and may be nil.
func (a *Aircraft) MergeRoute(r *Route, resolve func(code string) string) {
	if a == nil || r == nil {
		return
	}
	if code := strings.ToUpper(strings.TrimSpace(r.AirlineCode)); code != "" && a.Airline == "" {
		name := ""
		if resolve != nil {
			name = resolve(code)
		}
		if name == "" {
			name = code
		}
		a.Airline = fmt.Sprintf("%s (%s)", name, code)
	}
	if len(r.Airports) > 0 && a.FromObj == nil {
		a.FromObj = r.Airports[0].Airport()
	}
	if len(r.Airports) > 1 && a.ToObj == nil {
		a.ToObj = r.Airports[1].Airport()
	}
}

func fill(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
