// README: Pure geospatial math for the stationary monitor; no state, no I/O.
package geo

import (
	"errors"
	"fmt"
	"math"
	"time"

	"vigil/internal/types"
)

const earthRadiusM = 6371000.0

const (
	// StationaryThresholdMeters is the movement radius below which a trip is
	// considered immobile around its anchor point.
	StationaryThresholdMeters = 50.0
	// StationaryWindow is how long a trip must stay inside the threshold
	// before a safety check is dispatched.
	StationaryWindow = 15 * time.Minute
)

var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ValidatePoint rejects latitudes outside [-90,90] and longitudes outside [-180,180].
func ValidatePoint(p types.Point) error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude must be between -90 and 90, got %f", ErrInvalidCoordinates, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude must be between -180 and 180, got %f", ErrInvalidCoordinates, p.Lng)
	}
	return nil
}

// Distance returns the great-circle distance between a and b in meters.
// Symmetric in its arguments; zero iff a == b.
func Distance(a, b types.Point) (float64, error) {
	if err := ValidatePoint(a); err != nil {
		return 0, err
	}
	if err := ValidatePoint(b); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}

	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c, nil
}

// Stationary is the result of comparing a current position against an episode anchor.
type Stationary struct {
	DistanceMeters   float64
	IsStationary     bool
	ThresholdReached bool
}

// CheckStationary reports whether cur is still within the stationary radius of
// anchor and whether the time window has elapsed since anchoredAt.
func CheckStationary(anchor, cur types.Point, anchoredAt, now time.Time) (Stationary, error) {
	d, err := Distance(anchor, cur)
	if err != nil {
		return Stationary{}, err
	}
	s := Stationary{DistanceMeters: d}
	s.IsStationary = d < StationaryThresholdMeters
	s.ThresholdReached = s.IsStationary && now.Sub(anchoredAt) >= StationaryWindow
	return s, nil
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
