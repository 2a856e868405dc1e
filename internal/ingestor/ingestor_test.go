package ingestor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusbus/internal/domain"
	"campusbus/internal/history"
	"campusbus/internal/store"
	"campusbus/internal/tracking"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	deltas []domain.VehicleDelta
}

func (b *recordingBroadcaster) Broadcast(d []domain.VehicleDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deltas = append(b.deltas, d...)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deltas)
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []*domain.Vehicle
}

func (p *fakePublisher) PublishStatus(v *domain.Vehicle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, v)
	return nil
}

type fakeTrips struct {
	mu        sync.Mutex
	trips     map[string]domain.TripState
	vehicles  map[string]*domain.Vehicle
	forgotten []string
}

func newFakeTrips() *fakeTrips {
	return &fakeTrips{trips: map[string]domain.TripState{}, vehicles: map[string]*domain.Vehicle{}}
}

func (f *fakeTrips) SaveTrip(_ context.Context, key string, st domain.TripState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trips[key] = st.Clone()
	return nil
}

func (f *fakeTrips) Save(_ context.Context, v *domain.Vehicle, st domain.TripState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vehicles[v.Key] = v
	f.trips[v.Key] = st.Clone()
	return nil
}

func (f *fakeTrips) Forget(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, key)
	return nil
}

func (f *fakeTrips) RestoreTrips(context.Context) (map[string]domain.TripState, map[string]*domain.Vehicle, error) {
	return f.trips, f.vehicles, nil
}

type fakeHistory struct {
	arrivals     []history.Arrival
	observations []history.DelayObservation
}

func (h *fakeHistory) RecordArrivals(_ context.Context, a []history.Arrival) error {
	h.arrivals = append(h.arrivals, a...)
	return nil
}

func (h *fakeHistory) ObserveDelays(_ context.Context, o []history.DelayObservation) error {
	h.observations = append(h.observations, o...)
	return nil
}

func (h *fakeHistory) Cleanup(context.Context, time.Duration) (int64, error) { return 0, nil }

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func campusRoutes() *store.RouteStore {
	rs := store.NewRouteStore()
	rs.UpdateAll([]*domain.Route{{
		ID:        "north",
		Name:      "North Loop",
		BusNumber: "12",
		Waypoints: []domain.Waypoint{
			{Name: "Main Gate", Lat: 0, Lon: 0, ScheduledTime: "08:00"},
			{Name: "Library", Lat: 0, Lon: 0.01, ScheduledTime: "08:15"},
			{Name: "Hostel", Lat: 0, Lon: 0.02, ScheduledTime: "08:30"},
		},
	}}, "fp")
	return rs
}

type harness struct {
	ing       *Ingestor
	store     *store.Store
	routes    *store.RouteStore
	bcast     *recordingBroadcaster
	publisher *fakePublisher
	trips     *fakeTrips
	history   *fakeHistory
	clock     *time.Time
}

func newHarness(staleAfter time.Duration) *harness {
	st := store.New(staleAfter)
	h := &harness{
		store:     st,
		routes:    campusRoutes(),
		bcast:     &recordingBroadcaster{},
		publisher: &fakePublisher{},
		trips:     newFakeTrips(),
		history:   &fakeHistory{},
	}
	now := at(8, 0)
	h.clock = &now

	opts := Options{
		ZoomLevel: 14,
		Tracking: tracking.Options{
			ArrivalRadiusKm: 0.1,
			DefaultSpeedKmh: 30,
			StoppedAfter:    5 * time.Minute,
			Location:        time.UTC,
		},
	}
	h.ing = New(st, h.routes, h.bcast, opts, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithPublisher(h.publisher).
		WithTripCache(h.trips).
		WithHistory(h.history)
	h.ing.now = func() time.Time { return *h.clock }
	return h
}

func (h *harness) sample(lon, speed float64, ts time.Time) Sample {
	return Sample{
		VehicleKey: "bus-1",
		RouteID:    "north",
		Position:   domain.PositionSample{Lat: 0, Lon: lon, SpeedKmh: speed, Timestamp: ts},
	}
}

func TestIngest_TripLifecycle(t *testing.T) {
	h := newHarness(time.Hour)
	ctx := context.Background()

	v, err := h.ing.Ingest(ctx, h.sample(0, 20, at(8, 0)))
	require.NoError(t, err)
	assert.Equal(t, "12", v.BusNumber, "bus number falls back to the route")
	assert.NotEmpty(t, v.TripID)
	assert.NotEmpty(t, v.TileID)
	require.NotNil(t, v.Status)
	assert.Equal(t, 1, v.Status.Progress.NextWaypointIndex)
	assert.False(t, v.Status.Delay.IsDelayed)

	assert.Equal(t, 1, h.bcast.count())
	assert.Len(t, h.publisher.messages, 1)
	assert.Equal(t, 1, h.trips.trips["bus-1"].NextIndex)
	require.Len(t, h.history.arrivals, 1)
	assert.Equal(t, 0, *h.history.arrivals[0].DelayMinutes)

	*h.clock = at(8, 18)
	v, err = h.ing.Ingest(ctx, Sample{
		VehicleKey: "bus-1",
		Position:   domain.PositionSample{Lat: 0, Lon: 0.01, SpeedKmh: 0, Timestamp: at(8, 18)},
	})
	require.NoError(t, err)
	assert.Equal(t, "north", v.RouteID, "route carried over from the trip state")
	assert.Equal(t, tracking.ReasonLateArrival, v.Status.Delay.Reason)
	assert.Equal(t, 3, v.Status.Delay.DelayMinutes)

	require.Len(t, h.history.arrivals, 2)
	assert.Equal(t, "Library", h.history.arrivals[1].WaypointName)
	assert.Equal(t, 3, *h.history.arrivals[1].DelayMinutes)
	require.Len(t, h.history.observations, 2)
	assert.Equal(t, 3, h.history.observations[1].DelayMinutes)

	st, ok := h.store.TripState("bus-1")
	require.True(t, ok)
	assert.Equal(t, 2, st.NextIndex)
}

func TestIngest_Rejects(t *testing.T) {
	h := newHarness(time.Hour)
	ctx := context.Background()

	_, err := h.ing.Ingest(ctx, Sample{VehicleKey: "bus-1", Position: domain.PositionSample{Lat: 1, Lon: 1}})
	assert.ErrorIs(t, err, ErrNoTrip)

	_, err = h.ing.Ingest(ctx, Sample{VehicleKey: "bus-1", RouteID: "nowhere", Position: domain.PositionSample{Lat: 1, Lon: 1}})
	assert.ErrorIs(t, err, store.ErrUnknownRoute)

	assert.Equal(t, 0, h.store.Count())
}

func TestIngest_NewTripIdResetsProgress(t *testing.T) {
	h := newHarness(time.Hour)
	ctx := context.Background()

	s := h.sample(0.01, 20, at(8, 10))
	s.TripID = "morning"
	_, err := h.ing.Ingest(ctx, s)
	require.NoError(t, err)
	st, _ := h.store.TripState("bus-1")
	assert.Equal(t, 2, st.NextIndex)

	s = h.sample(0, 20, at(9, 0))
	s.TripID = "second"
	_, err = h.ing.Ingest(ctx, s)
	require.NoError(t, err)
	st, _ = h.store.TripState("bus-1")
	assert.Equal(t, "second", st.TripID)
	assert.Equal(t, 1, st.NextIndex)
}

func TestRefresh_FlagsStoppedVehicle(t *testing.T) {
	h := newHarness(time.Hour)
	ctx := context.Background()

	*h.clock = at(8, 2)
	_, err := h.ing.Ingest(ctx, h.sample(0.005, 0, at(8, 2)))
	require.NoError(t, err)
	before := h.bcast.count()

	*h.clock = at(8, 4)
	h.ing.Refresh(ctx)
	v, _ := h.store.Get("bus-1")
	assert.NotEqual(t, tracking.ReasonVehicleStopped, v.Status.Delay.Reason)

	*h.clock = at(8, 9)
	h.ing.Refresh(ctx)

	v, _ = h.store.Get("bus-1")
	assert.True(t, v.Status.Delay.IsDelayed)
	assert.Equal(t, tracking.ReasonVehicleStopped, v.Status.Delay.Reason)
	assert.Equal(t, 7, v.Status.Delay.DelayMinutes)
	assert.Greater(t, h.bcast.count(), before)

	delayed := h.store.List(store.ListOptions{DelayedOnly: true})
	assert.Len(t, delayed, 1)
}

func TestRefresh_RecordsProgressAfterCatalogueReload(t *testing.T) {
	h := newHarness(time.Hour)
	ctx := context.Background()

	*h.clock = at(8, 5)
	_, err := h.ing.Ingest(ctx, h.sample(0.005, 20, at(8, 5)))
	require.NoError(t, err)
	assert.Equal(t, 0, h.trips.trips["bus-1"].NextIndex)
	assert.Empty(t, h.history.arrivals)

	// the gate moves under the parked bus
	h.routes.UpdateAll([]*domain.Route{{
		ID: "north",
		Waypoints: []domain.Waypoint{
			{Name: "Main Gate", Lat: 0, Lon: 0.005, ScheduledTime: "08:00"},
			{Name: "Library", Lat: 0, Lon: 0.01, ScheduledTime: "08:15"},
			{Name: "Hostel", Lat: 0, Lon: 0.02, ScheduledTime: "08:30"},
		},
	}}, "fp2")

	*h.clock = at(8, 6)
	h.ing.Refresh(ctx)

	st, _ := h.store.TripState("bus-1")
	assert.Equal(t, 1, st.NextIndex)
	assert.Equal(t, 1, h.trips.trips["bus-1"].NextIndex)
	require.NotNil(t, h.trips.vehicles["bus-1"].Status)
	assert.Equal(t, 1, h.trips.vehicles["bus-1"].Status.Progress.NextWaypointIndex)

	require.Len(t, h.history.arrivals, 1)
	assert.Equal(t, "Main Gate", h.history.arrivals[0].WaypointName)
	assert.Equal(t, 5, *h.history.arrivals[0].DelayMinutes)

	h.ing.Refresh(ctx)
	assert.Len(t, h.history.arrivals, 1, "nothing new to record")
}

func TestStartTrip(t *testing.T) {
	h := newHarness(time.Hour)
	ctx := context.Background()

	_, err := h.ing.StartTrip(ctx, "bus-1", "nowhere", "")
	assert.True(t, errors.Is(err, store.ErrUnknownRoute))

	_, err = h.ing.Ingest(ctx, h.sample(0.01, 20, at(8, 10)))
	require.NoError(t, err)

	st, err := h.ing.StartTrip(ctx, "bus-1", "north", "evening")
	require.NoError(t, err)
	assert.Equal(t, "evening", st.TripID)
	assert.Equal(t, 0, st.NextIndex)
	assert.Equal(t, "evening", h.trips.trips["bus-1"].TripID)

	v, err := h.ing.Ingest(ctx, Sample{
		VehicleKey: "bus-1",
		Position:   domain.PositionSample{Lat: 0, Lon: 0.0001, SpeedKmh: 20, Timestamp: at(17, 0)},
	})
	require.NoError(t, err)
	assert.Equal(t, "evening", v.TripID)
	assert.Equal(t, 1, v.Status.Progress.NextWaypointIndex)
}

func TestPrune_ForgetsCachedTrip(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	ctx := context.Background()

	_, err := h.ing.Ingest(ctx, h.sample(0, 20, at(8, 0)))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	h.ing.Prune(ctx)

	assert.Equal(t, 0, h.store.Count())
	assert.Equal(t, []string{"bus-1"}, h.trips.forgotten)
}

func TestRestore(t *testing.T) {
	h := newHarness(time.Hour)
	h.trips.trips["bus-7"] = domain.TripState{RouteID: "north", TripID: "t7", NextIndex: 2}
	h.trips.vehicles["bus-7"] = &domain.Vehicle{Key: "bus-7", RouteID: "north", Lat: 0, Lon: 0.01}

	require.NoError(t, h.ing.Restore(context.Background()))

	st, ok := h.store.TripState("bus-7")
	require.True(t, ok)
	assert.Equal(t, 2, st.NextIndex)

	v, ok := h.store.Get("bus-7")
	require.True(t, ok)
	assert.NotEmpty(t, v.TileID)
}

func TestNewArrivals(t *testing.T) {
	route, _ := campusRoutes().GetRoute("north")
	prev := domain.TripState{Arrivals: map[int]time.Time{0: at(8, 0)}}
	next := domain.TripState{TripID: "t", Arrivals: map[int]time.Time{0: at(8, 0), 2: at(8, 28), 1: at(8, 28)}}

	arrivals, obs := newArrivals("bus-1", route, prev, next, time.UTC)
	require.Len(t, arrivals, 2)
	assert.Equal(t, 1, arrivals[0].WaypointIndex)
	assert.Equal(t, 13, *arrivals[0].DelayMinutes)
	assert.Equal(t, -2, *arrivals[1].DelayMinutes)
	assert.Len(t, obs, 2)
}
