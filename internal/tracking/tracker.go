// Package tracking estimates where a bus is on its route, when it will reach
// the remaining stops and whether the trip is running late.
//
// Every function here is pure: inputs are never mutated and no state is kept
// between calls, so evaluations for different vehicles can run in parallel.
package tracking

import (
	"time"

	"campusbus/internal/domain"
)

// Evaluate runs resolver, estimator, classifier and reporter for one sample
// and returns the report along with the updated trip state. Waypoints passed
// during this step get the sample timestamp as their arrival time.
//
// A nil sample re-evaluates the state without moving the vehicle, which is
// how the refresh loop notices buses that stopped reporting.
func Evaluate(route *domain.Route, state domain.TripState, sample *domain.PositionSample, now time.Time, opts Options) (domain.TrackingReport, domain.TripState) {
	opts = opts.withDefaults()
	next := state.Clone()

	report := domain.TrackingReport{
		Progress:    domain.RouteProgress{PerWaypointEta: []domain.EtaEntry{}},
		Summary:     domain.ProgressSummary{PerStopDisplay: []domain.StopDisplay{}},
		Delay:       onTime(nil),
		EvaluatedAt: now,
	}
	if route == nil || len(route.Waypoints) == 0 {
		next.NextIndex = 0
		return report, next
	}
	waypoints := route.Waypoints

	var position *domain.Point
	if sample != nil {
		p := sample.Point()
		position = &p
	}

	nextIndex := ResolveCurrentWaypoint(position, waypoints, state.NextIndex, opts)
	if nextIndex > state.NextIndex {
		if next.Arrivals == nil {
			next.Arrivals = make(map[int]time.Time)
		}
		arrivedAt := now
		if sample != nil && !sample.Timestamp.IsZero() {
			arrivedAt = sample.Timestamp
		}
		for i := state.NextIndex; i < nextIndex; i++ {
			if _, ok := next.Arrivals[i]; !ok {
				next.Arrivals[i] = arrivedAt
			}
		}
	}
	next.NextIndex = nextIndex

	var speed float64
	if sample != nil {
		speed = sample.SpeedKmh
	}
	etas := EstimateETAs(position, speed, waypoints, nextIndex, now, opts)

	serviceDay := ServiceDayOf(next, now, opts.Location)
	verdict := ClassifyDelay(DelayInput{
		Waypoints:  waypoints,
		ETAs:       etas,
		Sample:     sample,
		Arrivals:   next.Arrivals,
		Scheduled:  route.ScheduledMinutes,
		Now:        now,
		ServiceDay: serviceDay,
	}, opts)

	summary := ComputeProgress(waypoints, position, nextIndex, etas, next.Arrivals, opts)

	current := nextIndex - 1
	if current < 0 {
		current = 0
	}
	report.Progress = domain.RouteProgress{
		CurrentWaypointIndex: current,
		NextWaypointIndex:    nextIndex,
		PercentComplete:      summary.PercentComplete,
		PerWaypointEta:       etas,
	}
	report.Summary = summary
	report.Delay = verdict
	report.ServiceDay = serviceDay

	return report, next
}
