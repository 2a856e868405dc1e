package domain

import "time"

// Point is a WGS-84 coordinate in degrees
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// PositionSample is one GPS fix reported by a driver device
type PositionSample struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	SpeedKmh  float64   `json:"speedKmh"`
	Timestamp time.Time `json:"timestamp"`
}

// Point returns the sample coordinates
func (s PositionSample) Point() Point {
	return Point{Lat: s.Lat, Lon: s.Lon}
}

// TripState is the per-vehicle memory carried between evaluations.
// NextIndex is the first waypoint not yet reached.
type TripState struct {
	RouteID   string            `json:"routeId"`
	TripID    string            `json:"tripId"`
	NextIndex int               `json:"nextIndex"`
	Arrivals  map[int]time.Time `json:"arrivals,omitempty"`
	StartedAt time.Time         `json:"startedAt"`
}

// Clone returns a deep copy of the state
func (s TripState) Clone() TripState {
	out := s
	if s.Arrivals != nil {
		out.Arrivals = make(map[int]time.Time, len(s.Arrivals))
		for k, v := range s.Arrivals {
			out.Arrivals[k] = v
		}
	}
	return out
}

// EtaEntry is the cumulative estimate to reach one waypoint
type EtaEntry struct {
	WaypointIndex    int       `json:"waypointIndex"`
	WaypointName     string    `json:"waypointName"`
	DistanceKm       float64   `json:"distanceKm"`
	EtaMinutes       float64   `json:"etaMinutes"`
	EstimatedArrival time.Time `json:"estimatedArrival"`
}

// RouteProgress is where the vehicle is on its route
type RouteProgress struct {
	CurrentWaypointIndex int        `json:"currentWaypointIndex"`
	NextWaypointIndex    int        `json:"nextWaypointIndex"`
	PercentComplete      int        `json:"percentComplete"`
	PerWaypointEta       []EtaEntry `json:"perWaypointEta"`
}

// DelayStatus is the coarse trip classification
type DelayStatus string

const (
	StatusOnTime  DelayStatus = "on_time"
	StatusDelayed DelayStatus = "delayed"
	StatusEarly   DelayStatus = "early"
)

// DelayVerdict is the delay classification of a trip at one instant
type DelayVerdict struct {
	IsDelayed        bool        `json:"isDelayed"`
	Status           DelayStatus `json:"status"`
	DelayMinutes     int         `json:"delayMinutes"`
	Reason           string      `json:"reason"`
	AffectedWaypoint *int        `json:"affectedWaypoint,omitempty"`
}

// StopStatus describes a waypoint relative to the vehicle
type StopStatus string

const (
	StopPassed   StopStatus = "passed"
	StopNext     StopStatus = "next"
	StopUpcoming StopStatus = "upcoming"
)

// StopDisplay is one row of the per-stop progress view
type StopDisplay struct {
	Index            int          `json:"index"`
	Name             string       `json:"name"`
	Kind             WaypointKind `json:"kind"`
	ScheduledTime    string       `json:"scheduledTime,omitempty"`
	Status           StopStatus   `json:"status"`
	EtaMinutes       *int         `json:"etaMinutes,omitempty"`
	EstimatedArrival string       `json:"estimatedArrival,omitempty"`
	ActualArrival    *time.Time   `json:"actualArrival,omitempty"`
}

// ProgressSummary aggregates progress for display
type ProgressSummary struct {
	PercentComplete     int           `json:"percentComplete"`
	CurrentWaypointName string        `json:"currentWaypointName,omitempty"`
	NextWaypointName    string        `json:"nextWaypointName,omitempty"`
	TraveledKm          float64       `json:"traveledKm"`
	TotalKm             float64       `json:"totalKm"`
	PerStopDisplay      []StopDisplay `json:"perStopDisplay"`
}

// TrackingReport is the full result of one evaluation
type TrackingReport struct {
	Progress    RouteProgress   `json:"progress"`
	Summary     ProgressSummary `json:"summary"`
	Delay       DelayVerdict    `json:"delay"`
	EvaluatedAt time.Time       `json:"evaluatedAt"`
	// ServiceDay is local midnight of the day the trip's schedule refers to
	ServiceDay time.Time `json:"serviceDay,omitempty"`
}
