package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// WaypointKind marks where a waypoint sits on its route
type WaypointKind string

const (
	WaypointStart WaypointKind = "start"
	WaypointStop  WaypointKind = "stop"
	WaypointEnd   WaypointKind = "end"
)

// Waypoint is a named point on a route with an optional scheduled time
type Waypoint struct {
	Name                             string       `json:"name" yaml:"name" validate:"required"`
	Lat                              float64      `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lon                              float64      `json:"lon" yaml:"lon" validate:"gte=-180,lte=180"`
	ScheduledTime                    string       `json:"scheduledTime,omitempty" yaml:"scheduled_time" validate:"omitempty,clock"`
	EstimatedArrivalMinutesFromStart int          `json:"estimatedArrivalMinutesFromStart,omitempty" yaml:"minutes_from_start" validate:"gte=0"`
	Kind                             WaypointKind `json:"kind" yaml:"kind" validate:"omitempty,oneof=start stop end"`
}

// Point returns the waypoint coordinates
func (w Waypoint) Point() Point {
	return Point{Lat: w.Lat, Lon: w.Lon}
}

// ScheduledMinutes returns the scheduled time as minutes since midnight.
// The second result is false when the waypoint has no usable schedule.
func (w Waypoint) ScheduledMinutes() (int, bool) {
	return ParseClock(w.ScheduledTime)
}

// Route is an ordered sequence of waypoints served by one bus
type Route struct {
	ID            string     `json:"id" yaml:"id" validate:"required"`
	Name          string     `json:"name" yaml:"name" validate:"required"`
	BusNumber     string     `json:"busNumber,omitempty" yaml:"bus_number"`
	DepartureTime string     `json:"departureTime,omitempty" yaml:"departure_time" validate:"omitempty,clock"`
	Waypoints     []Waypoint `json:"waypoints" yaml:"waypoints" validate:"min=2,dive"`
}

// ScheduledMinutes resolves the schedule of waypoint i. An explicit
// scheduled time wins; otherwise the route departure time plus the
// waypoint's offset from start is used.
func (r *Route) ScheduledMinutes(i int) (int, bool) {
	if r == nil || i < 0 || i >= len(r.Waypoints) {
		return 0, false
	}
	wp := r.Waypoints[i]
	if m, ok := wp.ScheduledMinutes(); ok {
		return m, true
	}
	dep, ok := ParseClock(r.DepartureTime)
	if !ok {
		return 0, false
	}
	if i > 0 && wp.EstimatedArrivalMinutesFromStart == 0 {
		return 0, false
	}
	return dep + wp.EstimatedArrivalMinutesFromStart, true
}

// Points returns the route geometry as a slice of points
func (r *Route) Points() []Point {
	if r == nil {
		return nil
	}
	pts := make([]Point, len(r.Waypoints))
	for i, wp := range r.Waypoints {
		pts[i] = wp.Point()
	}
	return pts
}

// KindAt returns the waypoint kind, inferring start/end from position when unset
func (r *Route) KindAt(i int) WaypointKind {
	if r == nil || i < 0 || i >= len(r.Waypoints) {
		return ""
	}
	if k := r.Waypoints[i].Kind; k != "" {
		return k
	}
	switch i {
	case 0:
		return WaypointStart
	case len(r.Waypoints) - 1:
		return WaypointEnd
	default:
		return WaypointStop
	}
}

// ParseClock parses "HH:MM" (or "HH:MM:SS") into minutes since midnight.
// Hours past 23 are accepted for trips running over midnight.
func ParseClock(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 47 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, false
		}
	}
	return h*60 + m, true
}

// FormatClock renders minutes since midnight as "HH:MM"
func FormatClock(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
