package tracking

import (
	"math"
	"time"

	"campusbus/internal/domain"
)

// ComputeProgress aggregates resolver and estimator output for display.
// nextIndex is the resolver result: waypoints before it are passed.
func ComputeProgress(waypoints []domain.Waypoint, position *domain.Point, nextIndex int, etas []domain.EtaEntry, arrivals map[int]time.Time, opts Options) domain.ProgressSummary {
	summary := domain.ProgressSummary{PerStopDisplay: []domain.StopDisplay{}}
	if len(waypoints) == 0 {
		return summary
	}
	opts = opts.withDefaults()

	if nextIndex < 0 {
		nextIndex = 0
	}
	if nextIndex > len(waypoints) {
		nextIndex = len(waypoints)
	}

	summary.TotalKm = RouteLengthKm(waypoints)
	summary.TraveledKm = traveledKm(waypoints, position, nextIndex)
	summary.PercentComplete = percent(summary.TraveledKm, summary.TotalKm, nextIndex == len(waypoints))

	if nextIndex > 0 {
		summary.CurrentWaypointName = waypoints[nextIndex-1].Name
	}
	if nextIndex < len(waypoints) {
		summary.NextWaypointName = waypoints[nextIndex].Name
	}

	route := domain.Route{Waypoints: waypoints}
	summary.PerStopDisplay = make([]domain.StopDisplay, len(waypoints))
	for i, wp := range waypoints {
		row := domain.StopDisplay{
			Index:         i,
			Name:          wp.Name,
			Kind:          route.KindAt(i),
			ScheduledTime: wp.ScheduledTime,
		}
		switch {
		case i < nextIndex:
			row.Status = domain.StopPassed
		case i == nextIndex:
			row.Status = domain.StopNext
		default:
			row.Status = domain.StopUpcoming
		}
		if at, ok := arrivals[i]; ok {
			t := at
			row.ActualArrival = &t
		}
		if row.Status != domain.StopPassed {
			if eta, ok := findETA(etas, i); ok {
				m := int(math.Round(eta.EtaMinutes))
				row.EtaMinutes = &m
				row.EstimatedArrival = eta.EstimatedArrival.In(opts.Location).Format("15:04")
			}
		}
		summary.PerStopDisplay[i] = row
	}

	return summary
}

func traveledKm(waypoints []domain.Waypoint, position *domain.Point, nextIndex int) float64 {
	if nextIndex == 0 {
		return 0
	}
	var traveled float64
	for i := 1; i < nextIndex; i++ {
		traveled += HaversineKm(waypoints[i-1].Point(), waypoints[i].Point())
	}
	if position != nil && nextIndex < len(waypoints) {
		traveled += HaversineKm(waypoints[nextIndex-1].Point(), *position)
	}
	return traveled
}

func percent(traveled, total float64, complete bool) int {
	if complete {
		return 100
	}
	if total <= 0 {
		return 0
	}
	p := int(math.Round(traveled / total * 100))
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}
