package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusbus/internal/domain"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(Options{Addr: mr.Addr()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(Options{Addr: addr, DialTimeout: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestRedisCache_JSONRoundTripUsesPrefix(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, "k", map[string]int{"a": 1}, time.Minute))
	assert.True(t, mr.Exists("campusbus:k"))

	var got map[string]int
	found, err := c.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, got["a"])

	found, err = c.GetJSON(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisCache_Compressed(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	payload := map[string]string{"text": "library library library library library"}
	require.NoError(t, c.SetJSONCompressed(ctx, "blob", payload, 0))

	raw, err := mr.Get("campusbus:blob")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), 2)
	assert.Equal(t, "\x1f\x8b", raw[:2], "stored value is a gzip stream")

	var got map[string]string
	found, err := c.GetJSONCompressed(ctx, "blob", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload, got)
}

func TestRedisCache_ManyKeys(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetManyJSON(ctx, map[string]any{"a": 1, "b": 2}, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("campusbus:b"))

	got, err := c.GetManyRaw(ctx, []string{"a", "missing", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)

	require.NoError(t, c.Delete(ctx, "a", "b"))
	assert.False(t, mr.Exists("campusbus:a"))
	assert.True(t, c.IsReady())
}

func TestTripCache_SaveAndRestore(t *testing.T) {
	c, mr := newTestCache(t)
	tc := NewTripCache(c, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	arrived := time.Date(2026, 3, 2, 8, 1, 0, 0, time.UTC)
	require.NoError(t, tc.Save(ctx, &domain.Vehicle{Key: "bus-1", RouteID: "north", Lat: 1, Lon: 2}, domain.TripState{
		RouteID:   "north",
		TripID:    "t-1",
		NextIndex: 2,
		Arrivals:  map[int]time.Time{0: arrived, 1: arrived.Add(9 * time.Minute)},
	}))
	require.NoError(t, tc.SaveTrip(ctx, "bus-2", domain.TripState{RouteID: "south", NextIndex: 1}))

	assert.Equal(t, time.Hour, mr.TTL("campusbus:trip:bus-1"))

	trips, vehicles, err := tc.RestoreTrips(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, 2, trips["bus-1"].NextIndex)
	assert.True(t, trips["bus-1"].Arrivals[1].Equal(arrived.Add(9*time.Minute)))
	require.Len(t, vehicles, 1)
	assert.Equal(t, 2.0, vehicles["bus-1"].Lon)

	require.NoError(t, tc.Forget(ctx, "bus-1"))
	trips, _, err = tc.RestoreTrips(ctx)
	require.NoError(t, err)
	assert.Len(t, trips, 1)
	assert.Contains(t, trips, "bus-2")
}

func TestTripCache_Catalogue(t *testing.T) {
	c, _ := newTestCache(t)
	tc := NewTripCache(c, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	_, found, err := tc.LoadCatalogue(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	routes := []*domain.Route{{ID: "north", Name: "North", Waypoints: []domain.Waypoint{{Name: "A"}, {Name: "B"}}}}
	require.NoError(t, tc.SaveCatalogue(ctx, routes, "f00"))

	snap, found, err := tc.LoadCatalogue(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "f00", snap.Fingerprint)
	require.Len(t, snap.Routes, 1)
	assert.Equal(t, "B", snap.Routes[0].Waypoints[1].Name)
}
