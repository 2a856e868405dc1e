package domain

import "time"

// Vehicle is the latest known state of one bus
type Vehicle struct {
	Key       string          `json:"key"`
	BusNumber string          `json:"busNumber,omitempty"`
	RouteID   string          `json:"routeId,omitempty"`
	TripID    string          `json:"tripId,omitempty"`
	Lat       float64         `json:"lat"`
	Lon       float64         `json:"lon"`
	SpeedKmh  float64         `json:"speedKmh"`
	Timestamp time.Time       `json:"timestamp"`
	TileID    string          `json:"tileId"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Status    *TrackingReport `json:"status,omitempty"`
}

// Sample returns the position sample carried by the vehicle
func (v *Vehicle) Sample() PositionSample {
	return PositionSample{
		Lat:       v.Lat,
		Lon:       v.Lon,
		SpeedKmh:  v.SpeedKmh,
		Timestamp: v.Timestamp,
	}
}

// IsDelayed reports whether the latest evaluation flagged a delay
func (v *Vehicle) IsDelayed() bool {
	return v.Status != nil && v.Status.Delay.IsDelayed
}

// DeltaType indicates whether a vehicle was updated or removed
type DeltaType string

const (
	DeltaUpdate DeltaType = "update"
	DeltaRemove DeltaType = "remove"
)

// VehicleDelta represents a change in vehicle state
type VehicleDelta struct {
	Type    DeltaType `json:"type"`
	Vehicle *Vehicle  `json:"vehicle,omitempty"`
	Key     string    `json:"key,omitempty"`
	TileID  string    `json:"tileId"`
	RouteID string    `json:"routeId,omitempty"`
}

// BoundingBox represents a geographic rectangle
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// Contains checks if a point is within the bounding box
func (bb *BoundingBox) Contains(lat, lon float64) bool {
	return lat >= bb.MinLat && lat <= bb.MaxLat &&
		lon >= bb.MinLon && lon <= bb.MaxLon
}
