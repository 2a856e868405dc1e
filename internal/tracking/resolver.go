package tracking

import "campusbus/internal/domain"

// ResolveCurrentWaypoint returns the index of the first waypoint the vehicle
// has not reached yet, starting from lastIndex. A waypoint is reached when the
// position is within opts.ArrivalRadiusKm of it. When a later waypoint is
// within the radius, the ones before it are treated as passed too.
//
// The result never drops below lastIndex. len(waypoints) means the trip has
// reached its final waypoint.
func ResolveCurrentWaypoint(position *domain.Point, waypoints []domain.Waypoint, lastIndex int, opts Options) int {
	if len(waypoints) == 0 {
		return 0
	}
	opts = opts.withDefaults()

	if lastIndex < 0 {
		lastIndex = 0
	}
	if lastIndex > len(waypoints) {
		lastIndex = len(waypoints)
	}
	if position == nil {
		return lastIndex
	}

	next := lastIndex
	for i := lastIndex; i < len(waypoints); i++ {
		if HaversineKm(*position, waypoints[i].Point()) < opts.ArrivalRadiusKm {
			next = i + 1
		}
	}
	return next
}
