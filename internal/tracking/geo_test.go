package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"campusbus/internal/domain"
)

func TestHaversineKm(t *testing.T) {
	t.Run("IdenticalPoints", func(t *testing.T) {
		p := domain.Point{Lat: 12.9716, Lon: 77.5946}
		assert.Equal(t, 0.0, HaversineKm(p, p))
	})

	t.Run("Symmetric", func(t *testing.T) {
		a := domain.Point{Lat: 12.9716, Lon: 77.5946}
		b := domain.Point{Lat: 13.0827, Lon: 80.2707}
		assert.InDelta(t, HaversineKm(a, b), HaversineKm(b, a), 1e-9)
	})

	t.Run("OneDegreeOfLatitude", func(t *testing.T) {
		d := HaversineKm(domain.Point{Lat: 0, Lon: 0}, domain.Point{Lat: 1, Lon: 0})
		assert.InDelta(t, 111.195, d, 0.001)
	})
}

func TestRouteLengthKm(t *testing.T) {
	wps := []domain.Waypoint{
		{Name: "A", Lat: 0, Lon: 0},
		{Name: "B", Lat: 0, Lon: 0.1},
		{Name: "C", Lat: 0, Lon: 0.2},
	}
	leg := HaversineKm(wps[0].Point(), wps[1].Point())
	assert.InDelta(t, 2*leg, RouteLengthKm(wps), 1e-9)
	assert.Equal(t, 0.0, RouteLengthKm(nil))
	assert.Equal(t, 0.0, RouteLengthKm(wps[:1]))
}

func TestBearing(t *testing.T) {
	origin := domain.Point{Lat: 0, Lon: 0}
	assert.InDelta(t, 0, Bearing(origin, domain.Point{Lat: 1, Lon: 0}), 1e-9)
	assert.InDelta(t, 90, Bearing(origin, domain.Point{Lat: 0, Lon: 1}), 1e-9)
	assert.InDelta(t, 180, Bearing(origin, domain.Point{Lat: -1, Lon: 0}), 1e-9)
	assert.InDelta(t, 270, Bearing(origin, domain.Point{Lat: 0, Lon: -1}), 1e-9)
}

func TestInterpolate(t *testing.T) {
	a := domain.Point{Lat: 10, Lon: 20}
	b := domain.Point{Lat: 12, Lon: 24}

	assert.Equal(t, a, Interpolate(a, b, 0))
	assert.Equal(t, b, Interpolate(a, b, 1))
	assert.Equal(t, domain.Point{Lat: 11, Lon: 22}, Interpolate(a, b, 0.5))
	assert.Equal(t, b, Interpolate(a, b, 3), "fraction is clamped")
}
