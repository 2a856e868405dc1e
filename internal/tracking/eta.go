package tracking

import (
	"math"
	"time"

	"campusbus/internal/domain"
)

// EstimateETAs returns cumulative distance and time estimates for every
// waypoint from fromIndex onward. The first hop is measured from position,
// later hops between consecutive waypoints. A non-positive speed is replaced
// by opts.DefaultSpeedKmh. Arrival times are offset from at.
func EstimateETAs(position *domain.Point, speedKmh float64, waypoints []domain.Waypoint, fromIndex int, at time.Time, opts Options) []domain.EtaEntry {
	if fromIndex < 0 {
		fromIndex = 0
	}
	if position == nil || fromIndex >= len(waypoints) {
		return []domain.EtaEntry{}
	}
	opts = opts.withDefaults()
	speed := EffectiveSpeed(speedKmh, opts)

	etas := make([]domain.EtaEntry, 0, len(waypoints)-fromIndex)
	prev := *position
	var distance float64
	for i := fromIndex; i < len(waypoints); i++ {
		wp := waypoints[i].Point()
		distance += HaversineKm(prev, wp)
		prev = wp

		minutes := distance / speed * 60
		etas = append(etas, domain.EtaEntry{
			WaypointIndex:    i,
			WaypointName:     waypoints[i].Name,
			DistanceKm:       distance,
			EtaMinutes:       minutes,
			EstimatedArrival: at.Add(time.Duration(minutes * float64(time.Minute))),
		})
	}
	return etas
}

// EffectiveSpeed picks the speed used for estimates
func EffectiveSpeed(speedKmh float64, opts Options) float64 {
	if speedKmh > 0 && !math.IsInf(speedKmh, 0) {
		return speedKmh
	}
	if opts.DefaultSpeedKmh > 0 {
		return opts.DefaultSpeedKmh
	}
	return DefaultOptions().DefaultSpeedKmh
}

func findETA(etas []domain.EtaEntry, index int) (domain.EtaEntry, bool) {
	for _, e := range etas {
		if e.WaypointIndex == index {
			return e, true
		}
	}
	return domain.EtaEntry{}, false
}
