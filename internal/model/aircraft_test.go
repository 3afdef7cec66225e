package model_test

import (
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/yeonjoon13/nearby-flights/internal/model"
)

func decodeRaw(t *testing.T, s string) *model.RawAircraft {
	t.Helper()
	var raw model.RawAircraft
	require.NoError(t, json.Unmarshal([]byte(s), &raw))
	return &raw
}

func TestSanitize(t *testing.T) {
	t.Parallel()
	raw := decodeRaw(t, `{
		"hex": "4ca7b5", "flight": "RYR12AB  ", "r": "EI-DCL", "t": "B738",
		"lat": 51.5, "lon": "-0.25", "gs": 412.3, "alt_baro": "ground",
		"true_heading": null, "mag_heading": 181.5, "seen": 0.4, "dst": 3.2
	}`)

	ac := model.Sanitize(raw)
	require.NotNil(t, ac)
	require.Equal(t, "4ca7b5", ac.Hex)
	require.Equal(t, "RYR12AB", ac.Flight)
	require.Equal(t, "EI-DCL", ac.Reg)
	require.Equal(t, "B738", ac.Type)
	require.InDelta(t, 51.5, *ac.Lat, 1e-9)
	require.InDelta(t, -0.25, *ac.Lon, 1e-9)
	require.InDelta(t, 412.3, *ac.GS, 1e-9)
	require.Nil(t, ac.AltBaro, "non-numeric altitude must be null, not zero")
	require.Nil(t, ac.TAS)
	require.InDelta(t, 181.5, *ac.Heading, 1e-9)
	require.Equal(t, "none", ac.Emergency)
	require.InDelta(t, 3.2, *ac.Dst, 1e-9)
	require.True(t, ac.HasPosition())
}

func TestSanitize_TypeFallbackAndEmergency(t *testing.T) {
	t.Parallel()
	ac := model.Sanitize(decodeRaw(t, `{"hex":"abc","type":"adsb_icao","emergency":"squawk7700","true_heading":0,"mag_heading":90}`))
	require.Equal(t, "adsb_icao", ac.Type)
	require.Equal(t, "squawk7700", ac.Emergency)
	require.InDelta(t, 0, *ac.Heading, 1e-9)
	require.False(t, ac.HasPosition())

	require.Nil(t, model.Sanitize(nil))
}

func TestToNumber(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   any
		want *float64
	}{
		{"float", 12.5, ptr(12.5)},
		{"int", 3, ptr(3)},
		{"numeric string", " 7.25 ", ptr(7.25)},
		{"zero is kept", 0.0, ptr(0)},
		{"empty string", "", nil},
		{"word", "ground", nil},
		{"nil", nil, nil},
		{"bool", true, nil},
		{"nan", math.NaN(), nil},
		{"inf", math.Inf(1), nil},
		{"json number", json.Number("42"), ptr(42)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.ToNumber(tt.in)
			if tt.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestSanitizedAircraftEncodesNulls(t *testing.T) {
	t.Parallel()
	ac := model.Sanitize(decodeRaw(t, `{"hex":"abc","lat":"x"}`))
	b, err := json.Marshal(ac)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	v, ok := m["lat"]
	require.True(t, ok)
	require.Nil(t, v)
	require.Equal(t, "none", m["emergency"])
}

func TestThumbPath(t *testing.T) {
	t.Parallel()
	require.Equal(t, "/api/docimg/B738.jpg", model.ThumbPath(" b738 "))
	require.Equal(t, "/api/docimg/A20N.jpg", model.ThumbPath("a20n!"))
	require.Equal(t, "", model.ThumbPath("***"))
	require.Equal(t, "", model.ThumbPath(""))
}

func TestHaversineKm(t *testing.T) {
	t.Parallel()
	// Heathrow to Gatwick, about 40 km
	d := model.HaversineKm(51.4700, -0.4543, 51.1537, -0.1821)
	require.InDelta(t, 40.0, d, 1.5)
	require.InDelta(t, 0, model.HaversineKm(10, 10, 10, 10), 1e-9)
}

func TestDistanceFrom(t *testing.T) {
	t.Parallel()
	withDst := &model.Aircraft{Dst: ptr(2), Lat: ptr(50), Lon: ptr(0)}
	require.InDelta(t, 2, withDst.DistanceFrom(51, 0), 1e-9)

	noDst := &model.Aircraft{Lat: ptr(51.1), Lon: ptr(0)}
	require.InDelta(t, 11.1, noDst.DistanceFrom(51, 0), 0.1)

	unknown := &model.Aircraft{}
	require.True(t, math.IsInf(unknown.DistanceFrom(51, 0), 1))
}

func ptr(f float64) *float64 { return &f }
