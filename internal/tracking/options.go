package tracking

import (
	"math"
	"time"

	"campusbus/internal/domain"
)

// Options holds the tunables of the estimation pipeline
type Options struct {
	// ArrivalRadiusKm is the distance under which a waypoint counts as reached
	ArrivalRadiusKm float64
	// DefaultSpeedKmh replaces a reported speed of zero
	DefaultSpeedKmh float64
	// StoppedAfter is how long a stationary vehicle may stay silent before
	// the trip is flagged as stopped
	StoppedAfter time.Duration
	// EarlyThresholdMinutes is how far ahead of schedule the next stop ETA
	// must be for the trip to be reported early
	EarlyThresholdMinutes int
	// Location is the time zone schedules are expressed in
	Location *time.Location
}

func DefaultOptions() Options {
	return Options{
		ArrivalRadiusKm:       0.1,
		DefaultSpeedKmh:       30,
		StoppedAfter:          5 * time.Minute,
		EarlyThresholdMinutes: 2,
		Location:              time.Local,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ArrivalRadiusKm <= 0 {
		o.ArrivalRadiusKm = d.ArrivalRadiusKm
	}
	if o.DefaultSpeedKmh <= 0 {
		o.DefaultSpeedKmh = d.DefaultSpeedKmh
	}
	if o.StoppedAfter <= 0 {
		o.StoppedAfter = d.StoppedAfter
	}
	if o.EarlyThresholdMinutes <= 0 {
		o.EarlyThresholdMinutes = d.EarlyThresholdMinutes
	}
	if o.Location == nil {
		o.Location = d.Location
	}
	return o
}

// ServiceDayStart returns local midnight of the day t falls on
func ServiceDayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// MinutesIntoServiceDay counts whole minutes from day to t. Times after the
// following midnight keep counting past 1440, matching "24:10" style
// schedules.
func MinutesIntoServiceDay(day, t time.Time) int {
	return int(math.Floor(t.Sub(day).Minutes()))
}

// ServiceDayOf anchors a trip to the day it started: the trip start time,
// else its earliest recorded arrival, else ref.
func ServiceDayOf(state domain.TripState, ref time.Time, loc *time.Location) time.Time {
	anchor := state.StartedAt
	if anchor.IsZero() {
		anchor = earliest(state.Arrivals)
	}
	if anchor.IsZero() {
		anchor = ref
	}
	return ServiceDayStart(anchor, loc)
}

func earliest(arrivals map[int]time.Time) time.Time {
	var first time.Time
	for _, t := range arrivals {
		if first.IsZero() || t.Before(first) {
			first = t
		}
	}
	return first
}
