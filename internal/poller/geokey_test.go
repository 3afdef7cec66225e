package poller_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yeonjoon13/nearby-flights/internal/poller"
)

func TestMakeKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		lat, lon, radius float64
		want             poller.Key
	}{
		{"defaults", 51.623842, -0.269584, 250, "51.624_-0.270_250"},
		{"half rounds up", 1.0005, 2.0004, 10, "1.001_2.000_10"},
		{"negative half rounds toward positive", -1.0005, -2.0006, 10, "-1.000_-2.001_10"},
		{"negative zero", -0.0004, 0.0001, 5, "0.000_0.000_5"},
		{"fractional radius", 10, 20, 12.5, "10.000_20.000_12.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, poller.MakeKey(tt.lat, tt.lon, tt.radius))
		})
	}
}

func TestMakeKey_NearbyPointsShareKey(t *testing.T) {
	t.Parallel()
	require.Equal(t,
		poller.MakeKey(51.6238, -0.2696, 250),
		poller.MakeKey(51.6239, -0.2698, 250))

	// -0.2694 rounds to -0.269, not -0.270
	require.NotEqual(t,
		poller.MakeKey(51.6238, -0.2696, 250),
		poller.MakeKey(51.6239, -0.2694, 250))

	require.NotEqual(t,
		poller.MakeKey(51.6238, -0.2696, 250),
		poller.MakeKey(51.6238, -0.2696, 100))
}
