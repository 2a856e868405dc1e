package tracking

import (
	"math"

	"campusbus/internal/domain"
)

// EarthRadiusKm is the mean Earth radius used by HaversineKm
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in kilometers
func HaversineKm(a, b domain.Point) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	deltaPhi := (b.Lat - a.Lat) * math.Pi / 180
	deltaLambda := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(deltaPhi/2)*math.Sin(deltaPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(deltaLambda/2)*math.Sin(deltaLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// RouteLengthKm sums the legs between consecutive waypoints
func RouteLengthKm(waypoints []domain.Waypoint) float64 {
	var total float64
	for i := 1; i < len(waypoints); i++ {
		total += HaversineKm(waypoints[i-1].Point(), waypoints[i].Point())
	}
	return total
}

// Bearing returns the initial bearing from a to b in degrees (0-360)
func Bearing(a, b domain.Point) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	deltaLambda := (b.Lon - a.Lon) * math.Pi / 180

	x := math.Sin(deltaLambda) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)

	bearing := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}

// Interpolate linearly interpolates between two points.
// Good enough for the short legs between campus stops.
func Interpolate(a, b domain.Point, fraction float64) domain.Point {
	fraction = clamp(fraction, 0, 1)
	return domain.Point{
		Lat: a.Lat + (b.Lat-a.Lat)*fraction,
		Lon: a.Lon + (b.Lon-a.Lon)*fraction,
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
