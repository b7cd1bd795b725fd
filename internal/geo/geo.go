// Package geo validates and normalizes coordinates before they are
// written to a poster position.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// Precision is the number of decimal places kept for latitude and longitude.
const Precision = 6

var scale = math.Pow10(Precision)

// ErrOutOfRange is wrapped by Validate when a coordinate lies outside
// its valid range or is not a number.
var ErrOutOfRange = errors.New("coordinate out of range")

// Validate checks latitude ∈ [-90, 90] and longitude ∈ [-180, 180] and
// returns both rounded to Precision decimals.  Out-of-range values are
// rejected before any rounding takes place, so 90.0000004 is an error
// rather than 90.
func Validate(lat, lon float64) (float64, float64, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("%w: latitude %v must be between -90 and 90", ErrOutOfRange, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("%w: longitude %v must be between -180 and 180", ErrOutOfRange, lon)
	}
	return Round(lat), Round(lon), nil
}

// Round rounds v to Precision decimals, halves away from zero.
func Round(v float64) float64 {
	return math.Round(v*scale) / scale
}
