package poller

import (
	"fmt"
	"math"
	"strconv"
)

// Key identifies one polling loop: coordinates quantized to three decimals
// (about 110 m of latitude) plus the query radius.
type Key string

// MakeKey builds the key for a query point. Coordinates are rounded half
// up to three decimals so nearby subscribers share a loop.
func MakeKey(lat, lon, radius float64) Key {
	return Key(fmt.Sprintf("%s_%s_%s", round3(lat), round3(lon), strconv.FormatFloat(radius, 'f', -1, 64)))
}

func round3(f float64) string {
	r := math.Floor(f*1000+0.5) / 1000
	if r == 0 {
		// -0 prints as "-0.000"
		r = 0
	}
	return strconv.FormatFloat(r, 'f', 3, 64)
}
