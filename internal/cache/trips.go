package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"campusbus/internal/domain"
)

// TripCache persists per-vehicle trip memory so waypoint progress survives a restart
type TripCache struct {
	cache  *RedisCache
	ttl    time.Duration
	logger *slog.Logger
}

func NewTripCache(cache *RedisCache, ttl time.Duration, logger *slog.Logger) *TripCache {
	return &TripCache{
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "trip_cache"),
	}
}

func (t *TripCache) SaveTrip(ctx context.Context, vehicleKey string, state domain.TripState) error {
	return t.cache.SetJSON(ctx, KeyTrip(vehicleKey), state, t.ttl)
}

// Save writes the trip state and the vehicle snapshot together
func (t *TripCache) Save(ctx context.Context, v *domain.Vehicle, state domain.TripState) error {
	return t.cache.SetManyJSON(ctx, map[string]any{
		KeyTrip(v.Key):    state,
		KeyVehicle(v.Key): v,
	}, t.ttl)
}

func (t *TripCache) Forget(ctx context.Context, vehicleKey string) error {
	return t.cache.Delete(ctx, KeyTrip(vehicleKey), KeyVehicle(vehicleKey))
}

// RestoreTrips loads every cached trip state and the matching vehicle
// snapshot, when one is still cached.
func (t *TripCache) RestoreTrips(ctx context.Context) (map[string]domain.TripState, map[string]*domain.Vehicle, error) {
	start := time.Now()

	tripKeys, err := t.cache.Keys(ctx, patternTrips)
	if err != nil {
		return nil, nil, err
	}

	vehicleKeys := make([]string, len(tripKeys))
	for n, k := range tripKeys {
		vehicleKeys[n] = KeyVehicle(vehicleKeyFromTripKey(k))
	}

	rawTrips, err := t.cache.GetManyRaw(ctx, tripKeys)
	if err != nil {
		return nil, nil, err
	}
	rawVehicles, err := t.cache.GetManyRaw(ctx, vehicleKeys)
	if err != nil {
		return nil, nil, err
	}

	trips := make(map[string]domain.TripState, len(rawTrips))
	vehicles := make(map[string]*domain.Vehicle, len(rawVehicles))

	for n, k := range tripKeys {
		vehicleKey := vehicleKeyFromTripKey(k)
		data, ok := rawTrips[k]
		if !ok {
			continue
		}

		var state domain.TripState
		if err := json.Unmarshal(data, &state); err != nil {
			t.logger.Debug("skipping unreadable trip state", "vehicle_key", vehicleKey, "error", err)
			continue
		}
		trips[vehicleKey] = state

		if data, ok := rawVehicles[vehicleKeys[n]]; ok {
			var v domain.Vehicle
			if err := json.Unmarshal(data, &v); err == nil {
				vehicles[vehicleKey] = &v
			}
		}
	}

	t.logger.Info("restored trip states",
		"trips", len(trips),
		"vehicles", len(vehicles),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return trips, vehicles, nil
}

type CatalogueSnapshot struct {
	Routes      []*domain.Route `json:"routes"`
	Fingerprint string          `json:"fingerprint"`
	SavedAt     time.Time       `json:"savedAt"`
}

// SaveCatalogue keeps the last good route catalogue as a start-up fallback
func (t *TripCache) SaveCatalogue(ctx context.Context, routes []*domain.Route, fingerprint string) error {
	snap := CatalogueSnapshot{
		Routes:      routes,
		Fingerprint: fingerprint,
		SavedAt:     time.Now(),
	}
	return t.cache.SetJSONCompressed(ctx, KeyRouteCatalogue, snap, 0)
}

func (t *TripCache) LoadCatalogue(ctx context.Context) (*CatalogueSnapshot, bool, error) {
	var snap CatalogueSnapshot
	found, err := t.cache.GetJSONCompressed(ctx, KeyRouteCatalogue, &snap)
	if err != nil || !found {
		return nil, false, err
	}
	return &snap, true, nil
}
