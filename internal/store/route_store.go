package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"campusbus/internal/domain"
)

var ErrUnknownRoute = errors.New("unknown route")

type RouteStore struct {
	mu          sync.RWMutex
	routes      map[string]*domain.Route
	fingerprint string
	lastUpdate  time.Time
}

func NewRouteStore() *RouteStore {
	return &RouteStore{
		routes: make(map[string]*domain.Route),
	}
}

// UpdateAll replaces the whole catalogue
func (s *RouteStore) UpdateAll(routes []*domain.Route, fingerprint string) {
	byID := make(map[string]*domain.Route, len(routes))
	for _, r := range routes {
		byID[r.ID] = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes = byID
	s.fingerprint = fingerprint
	s.lastUpdate = time.Now()
}

func (s *RouteStore) GetAllRoutes() []*domain.Route {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Route, 0, len(s.routes))
	for _, route := range s.routes {
		result = append(result, cloneRoute(route))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *RouteStore) GetRoute(id string) (*domain.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	route, ok := s.routes[id]
	if !ok {
		return nil, ErrUnknownRoute
	}
	return cloneRoute(route), nil
}

func (s *RouteStore) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint
}

func (s *RouteStore) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.lastUpdate.IsZero()
}

type RouteStats struct {
	RoutesCount    int       `json:"routesCount"`
	WaypointsCount int       `json:"waypointsCount"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	LastUpdate     time.Time `json:"lastUpdate"`
	IsLoaded       bool      `json:"isLoaded"`
}

func (s *RouteStore) GetStats() RouteStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	waypoints := 0
	for _, r := range s.routes {
		waypoints += len(r.Waypoints)
	}

	return RouteStats{
		RoutesCount:    len(s.routes),
		WaypointsCount: waypoints,
		Fingerprint:    s.fingerprint,
		LastUpdate:     s.lastUpdate,
		IsLoaded:       !s.lastUpdate.IsZero(),
	}
}

func cloneRoute(r *domain.Route) *domain.Route {
	copy := *r
	copy.Waypoints = append([]domain.Waypoint(nil), r.Waypoints...)
	return &copy
}
