package geo

import (
	"math"
	"math/rand"
)

// metersPerDegreeLatitude converts a meter offset to degrees of
// latitude. Longitude additionally divides by cos(latitude) to correct
// for meridian convergence.
const metersPerDegreeLatitude = 111320.0

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64
	Lng float64
}

// Randomizer produces privacy-preserving jittered coordinates. The
// random source is injectable so tests can drive it deterministically;
// it must return values in [0, 1).
type Randomizer struct {
	random func() float64
}

// NewRandomizer constructs a Randomizer. A nil source falls back to
// the shared math/rand source.
func NewRandomizer(random func() float64) *Randomizer {
	if random == nil {
		random = rand.Float64
	}
	return &Randomizer{random: random}
}

// Randomize returns a point drawn uniformly from the disk of
// radiusMeters around the true coordinate. A radius of zero or less
// returns the input unchanged: no privacy loss was requested.
//
// The square root on the normalized radius gives uniform density over
// the disk's area; sampling the radius linearly would cluster points
// near the center. Near the poles the longitude correction factor
// grows without bound; callers are expected to operate at populated
// latitudes, so that case is documented rather than special-cased.
func (r *Randomizer) Randomize(lat, lng, radiusMeters float64) Coordinate {
	if radiusMeters <= 0 {
		return Coordinate{Lat: lat, Lng: lng}
	}

	angle := r.random() * 2 * math.Pi
	distanceMeters := math.Sqrt(r.random()) * radiusMeters

	latOffset := (distanceMeters * math.Cos(angle)) / metersPerDegreeLatitude
	lngOffset := (distanceMeters * math.Sin(angle)) / (metersPerDegreeLatitude * math.Cos(lat*math.Pi/180))

	return Coordinate{Lat: lat + latOffset, Lng: lng + lngOffset}
}

// RandomizeCoordinates is the package-level convenience using the
// shared random source.
func RandomizeCoordinates(lat, lng, radiusMeters float64) Coordinate {
	return NewRandomizer(nil).Randomize(lat, lng, radiusMeters)
}
