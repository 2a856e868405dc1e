package main

import (
	"campusbus/internal/domain"
	"campusbus/internal/tracking"
)

// walker moves a simulated bus along a route's waypoints at constant speed
type walker struct {
	points   []domain.Point
	legs     []float64 // km between points[i] and points[i+1]
	traveled float64
}

func newWalker(route *domain.Route) *walker {
	points := route.Points()
	legs := make([]float64, 0, len(points))
	for i := 1; i < len(points); i++ {
		legs = append(legs, tracking.HaversineKm(points[i-1], points[i]))
	}
	return &walker{points: points, legs: legs}
}

// advance moves the bus by km and returns its new position
func (w *walker) advance(km float64) domain.Point {
	w.traveled += km
	return w.position()
}

func (w *walker) position() domain.Point {
	remaining := w.traveled
	for i, leg := range w.legs {
		if remaining <= leg {
			if leg == 0 {
				return w.points[i+1]
			}
			return tracking.Interpolate(w.points[i], w.points[i+1], remaining/leg)
		}
		remaining -= leg
	}
	return w.points[len(w.points)-1]
}

func (w *walker) done() bool {
	var total float64
	for _, leg := range w.legs {
		total += leg
	}
	return w.traveled >= total
}

func (w *walker) reset() {
	w.traveled = 0
}
