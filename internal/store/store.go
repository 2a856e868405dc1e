package store

import (
	"sort"
	"sync"
	"time"

	"campusbus/internal/domain"
)

type ListOptions struct {
	RouteID     string
	BBox        *domain.BoundingBox
	DelayedOnly bool
}

type Store struct {
	mu       sync.RWMutex
	vehicles map[string]*domain.Vehicle
	trips    map[string]domain.TripState
	byTile   map[string]map[string]struct{}
	byRoute  map[string]map[string]struct{}

	staleAfter time.Duration
}

func New(staleAfter time.Duration) *Store {
	return &Store{
		vehicles:   make(map[string]*domain.Vehicle),
		trips:      make(map[string]domain.TripState),
		byTile:     make(map[string]map[string]struct{}),
		byRoute:    make(map[string]map[string]struct{}),
		staleAfter: staleAfter,
	}
}

// Update stores the given vehicles and returns a delta for every vehicle
// whose position or tracking status changed.
//
// Stored vehicles are never modified in place: delta receivers keep reading
// them after the lock is released, so every change swaps in a fresh copy.
func (s *Store) Update(vehicles []*domain.Vehicle) []domain.VehicleDelta {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	deltas := make([]domain.VehicleDelta, 0, len(vehicles))

	for _, v := range vehicles {
		v.UpdatedAt = now

		existing, exists := s.vehicles[v.Key]
		if exists && !hasChanged(existing, v) {
			touched := *existing
			touched.UpdatedAt = now
			s.vehicles[v.Key] = &touched
			continue
		}

		if exists {
			if existing.TileID != v.TileID {
				s.removeFromTileIndex(existing.Key, existing.TileID)
			}
			if existing.RouteID != v.RouteID {
				s.removeFromRouteIndex(existing.Key, existing.RouteID)
			}
		}

		stored := *v
		s.vehicles[v.Key] = &stored
		s.addToIndices(&stored)

		deltas = append(deltas, domain.VehicleDelta{
			Type:    domain.DeltaUpdate,
			Vehicle: &stored,
			TileID:  stored.TileID,
			RouteID: stored.RouteID,
		})
	}

	return deltas
}

// Restatus replaces the tracking report of a known vehicle without touching
// its freshness, so a silent vehicle still ages out. The returned delta is
// nil when nothing visible changed.
func (s *Store) Restatus(key string, report *domain.TrackingReport) *domain.VehicleDelta {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.vehicles[key]
	if !ok {
		return nil
	}
	changed := statusChanged(existing.Status, report)

	updated := *existing
	updated.Status = report
	s.vehicles[key] = &updated
	if !changed {
		return nil
	}

	return &domain.VehicleDelta{
		Type:    domain.DeltaUpdate,
		Vehicle: &updated,
		TileID:  updated.TileID,
		RouteID: updated.RouteID,
	}
}

func (s *Store) PruneStale() []domain.VehicleDelta {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.staleAfter)
	var deltas []domain.VehicleDelta

	for key, v := range s.vehicles {
		if v.UpdatedAt.Before(cutoff) {
			deltas = append(deltas, domain.VehicleDelta{
				Type:    domain.DeltaRemove,
				Key:     key,
				TileID:  v.TileID,
				RouteID: v.RouteID,
			})
			s.removeFromAllIndices(v)
			delete(s.vehicles, key)
			delete(s.trips, key)
		}
	}

	return deltas
}

// TripState returns the trip memory kept for a vehicle
func (s *Store) TripState(key string) (domain.TripState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.trips[key]
	if !ok {
		return domain.TripState{}, false
	}
	return st.Clone(), true
}

func (s *Store) SetTripState(key string, state domain.TripState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[key] = state.Clone()
}

// TripStates returns a copy of every trip state, keyed by vehicle
func (s *Store) TripStates() map[string]domain.TripState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]domain.TripState, len(s.trips))
	for k, st := range s.trips {
		result[k] = st.Clone()
	}
	return result
}

func (s *Store) Get(key string) (*domain.Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[key]
	if !ok {
		return nil, false
	}
	copy := *v
	return &copy, true
}

func (s *Store) List(opts ListOptions) []*domain.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.getCandidates(opts)

	result := make([]*domain.Vehicle, 0, len(candidates))
	for key := range candidates {
		v := s.vehicles[key]
		if opts.BBox != nil && !opts.BBox.Contains(v.Lat, v.Lon) {
			continue
		}
		if opts.DelayedOnly && !v.IsDelayed() {
			continue
		}
		copy := *v
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

func (s *Store) Snapshot() []*domain.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		copy := *v
		result = append(result, &copy)
	}
	return result
}

func (s *Store) SnapshotForTiles(tileIDs []string) []*domain.Vehicle {
	return s.snapshotFor(s.byTile, tileIDs)
}

func (s *Store) SnapshotForRoutes(routeIDs []string) []*domain.Vehicle {
	return s.snapshotFor(s.byRoute, routeIDs)
}

func (s *Store) snapshotFor(index map[string]map[string]struct{}, ids []string) []*domain.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var result []*domain.Vehicle

	for _, id := range ids {
		if keys, ok := index[id]; ok {
			for key := range keys {
				if _, exists := seen[key]; exists {
					continue
				}
				seen[key] = struct{}{}
				v := s.vehicles[key]
				copy := *v
				result = append(result, &copy)
			}
		}
	}
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

// CountByDelay returns how many tracked vehicles are delayed and how many are not
func (s *Store) CountByDelay() (delayed, onTime int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.vehicles {
		if v.IsDelayed() {
			delayed++
		} else {
			onTime++
		}
	}
	return delayed, onTime
}

func (s *Store) getCandidates(opts ListOptions) map[string]struct{} {
	if opts.RouteID != "" {
		return s.copySet(s.byRoute[opts.RouteID])
	}

	result := make(map[string]struct{}, len(s.vehicles))
	for key := range s.vehicles {
		result[key] = struct{}{}
	}
	return result
}

func (s *Store) copySet(src map[string]struct{}) map[string]struct{} {
	if src == nil {
		return make(map[string]struct{})
	}
	result := make(map[string]struct{}, len(src))
	for key := range src {
		result[key] = struct{}{}
	}
	return result
}

func (s *Store) addToIndices(v *domain.Vehicle) {
	if s.byTile[v.TileID] == nil {
		s.byTile[v.TileID] = make(map[string]struct{})
	}
	s.byTile[v.TileID][v.Key] = struct{}{}

	if v.RouteID == "" {
		return
	}
	if s.byRoute[v.RouteID] == nil {
		s.byRoute[v.RouteID] = make(map[string]struct{})
	}
	s.byRoute[v.RouteID][v.Key] = struct{}{}
}

func (s *Store) removeFromTileIndex(key, tileID string) {
	if s.byTile[tileID] != nil {
		delete(s.byTile[tileID], key)
		if len(s.byTile[tileID]) == 0 {
			delete(s.byTile, tileID)
		}
	}
}

func (s *Store) removeFromRouteIndex(key, routeID string) {
	if s.byRoute[routeID] != nil {
		delete(s.byRoute[routeID], key)
		if len(s.byRoute[routeID]) == 0 {
			delete(s.byRoute, routeID)
		}
	}
}

func (s *Store) removeFromAllIndices(v *domain.Vehicle) {
	s.removeFromTileIndex(v.Key, v.TileID)
	s.removeFromRouteIndex(v.Key, v.RouteID)
}

func hasChanged(old, new *domain.Vehicle) bool {
	const epsilon = 0.000001

	if old.RouteID != new.RouteID || old.TripID != new.TripID {
		return true
	}

	latDiff := old.Lat - new.Lat
	if latDiff < 0 {
		latDiff = -latDiff
	}
	lonDiff := old.Lon - new.Lon
	if lonDiff < 0 {
		lonDiff = -lonDiff
	}

	if latDiff > epsilon || lonDiff > epsilon {
		return true
	}

	if !old.Timestamp.Equal(new.Timestamp) || old.SpeedKmh != new.SpeedKmh {
		return true
	}

	return statusChanged(old.Status, new.Status)
}

func statusChanged(old, new *domain.TrackingReport) bool {
	if old == nil || new == nil {
		return old != new
	}
	if old.Progress.NextWaypointIndex != new.Progress.NextWaypointIndex ||
		old.Progress.PercentComplete != new.Progress.PercentComplete {
		return true
	}
	od, nd := old.Delay, new.Delay
	return od.IsDelayed != nd.IsDelayed ||
		od.Status != nd.Status ||
		od.DelayMinutes != nd.DelayMinutes ||
		od.Reason != nd.Reason
}
