package geo

import (
	"math"
	"math/rand"
	"testing"
)

// haversineMeters computes the geodesic distance between two points on
// a spherical earth, close enough for bounds checks at city scale.
func haversineMeters(a, b Coordinate) float64 {
	const earthRadiusMeters = 6371000.0
	toRadians := func(degrees float64) float64 { return degrees * math.Pi / 180 }

	deltaLat := toRadians(b.Lat - a.Lat)
	deltaLng := toRadians(b.Lng - a.Lng)
	sinLat := math.Sin(deltaLat / 2)
	sinLng := math.Sin(deltaLng / 2)
	h := sinLat*sinLat + math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*sinLng*sinLng
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

func TestRandomizeZeroRadiusReturnsInputExactly(t *testing.T) {
	origin := Coordinate{Lat: 40.7128, Lng: -74.0060}

	for _, radius := range []float64{0, -1, -250} {
		result := RandomizeCoordinates(origin.Lat, origin.Lng, radius)
		if result != origin {
			t.Fatalf("radius %v: expected input unchanged, got %+v", radius, result)
		}
	}
}

func TestRandomizeStaysWithinRadius(t *testing.T) {
	source := rand.New(rand.NewSource(1))
	randomizer := NewRandomizer(source.Float64)

	origins := []Coordinate{
		{Lat: 40.7128, Lng: -74.0060},
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 64.1466, Lng: -21.9426},
	}
	const radiusMeters = 500.0
	const toleranceMeters = 1.0

	for _, origin := range origins {
		for trial := 0; trial < 10000; trial++ {
			jittered := randomizer.Randomize(origin.Lat, origin.Lng, radiusMeters)
			distance := haversineMeters(origin, jittered)
			if distance > radiusMeters+toleranceMeters {
				t.Fatalf("origin %+v trial %d: distance %.2fm exceeds radius %.2fm",
					origin, trial, distance, radiusMeters)
			}
		}
	}
}

func TestRandomizeDeterministicWithFixedSource(t *testing.T) {
	first := NewRandomizer(rand.New(rand.NewSource(7)).Float64)
	second := NewRandomizer(rand.New(rand.NewSource(7)).Float64)

	for i := 0; i < 100; i++ {
		a := first.Randomize(48.8566, 2.3522, 300)
		b := second.Randomize(48.8566, 2.3522, 300)
		if a != b {
			t.Fatalf("iteration %d: same seed produced different points: %+v %+v", i, a, b)
		}
	}
}

func TestRandomizeUsesAreaUniformSampling(t *testing.T) {
	// With r = sqrt(U)*R, half of all samples land beyond R/sqrt(2).
	// A linear radius sample would put only ~29% there.
	source := rand.New(rand.NewSource(99))
	randomizer := NewRandomizer(source.Float64)
	origin := Coordinate{Lat: 52.52, Lng: 13.405}
	const radiusMeters = 1000.0

	const trials = 20000
	beyond := 0
	threshold := radiusMeters / math.Sqrt2
	for trial := 0; trial < trials; trial++ {
		jittered := randomizer.Randomize(origin.Lat, origin.Lng, radiusMeters)
		if haversineMeters(origin, jittered) > threshold {
			beyond++
		}
	}

	fraction := float64(beyond) / float64(trials)
	if fraction < 0.47 || fraction > 0.53 {
		t.Fatalf("expected ~50%% of samples beyond R/sqrt(2), got %.1f%%", fraction*100)
	}
}
