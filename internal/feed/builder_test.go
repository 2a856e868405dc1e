package feed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"campusbus/internal/domain"
	"campusbus/internal/store"
)

func fixture(t *testing.T) (*Builder, *domain.Vehicle, time.Time) {
	t.Helper()
	routes := store.NewRouteStore()
	routes.UpdateAll([]*domain.Route{{
		ID:   "north",
		Name: "North Loop",
		Waypoints: []domain.Waypoint{
			{Name: "Main Gate", ScheduledTime: "08:00"},
			{Name: "Library", ScheduledTime: "08:10"},
			{Name: "Hostel"},
		},
	}}, "fp")

	now := time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC)
	v := &domain.Vehicle{
		Key:       "bus-1",
		BusNumber: "12",
		RouteID:   "north",
		TripID:    "trip-1",
		Lat:       12.97,
		Lon:       77.59,
		SpeedKmh:  36,
		Timestamp: now,
		Status: &domain.TrackingReport{
			Progress: domain.RouteProgress{
				NextWaypointIndex: 1,
				PerWaypointEta: []domain.EtaEntry{
					{WaypointIndex: 1, WaypointName: "Library", EstimatedArrival: now.Add(8 * time.Minute)},
					{WaypointIndex: 2, WaypointName: "Hostel", EstimatedArrival: now.Add(15 * time.Minute)},
				},
			},
			Summary:     domain.ProgressSummary{PerStopDisplay: make([]domain.StopDisplay, 3)},
			Delay:       domain.DelayVerdict{IsDelayed: true, Status: domain.StatusDelayed, DelayMinutes: 3, Reason: "behind schedule"},
			EvaluatedAt: now,
		},
	}
	return NewBuilder(routes, time.UTC), v, now
}

func TestVehiclePositions(t *testing.T) {
	b, v, now := fixture(t)
	parked := &domain.Vehicle{Key: "bus-2", Lat: 1, Lon: 2}

	msg := b.VehiclePositions([]*domain.Vehicle{v, parked}, now)
	require.Len(t, msg.Entity, 2)
	assert.Equal(t, gtfs.FeedHeader_FULL_DATASET, msg.GetHeader().GetIncrementality())
	assert.Equal(t, uint64(now.Unix()), msg.GetHeader().GetTimestamp())

	vp := msg.Entity[0].GetVehicle()
	assert.Equal(t, "north", vp.GetTrip().GetRouteId())
	assert.Equal(t, "trip-1", vp.GetTrip().GetTripId())
	assert.Equal(t, "12", vp.GetVehicle().GetLabel())
	assert.InDelta(t, 10.0, vp.GetPosition().GetSpeed(), 1e-4)
	assert.Equal(t, uint32(1), vp.GetCurrentStopSequence())
	assert.Equal(t, "north:1", vp.GetStopId())
	assert.Equal(t, gtfs.VehiclePosition_IN_TRANSIT_TO, vp.GetCurrentStatus())

	other := msg.Entity[1].GetVehicle()
	assert.Nil(t, other.GetTrip())
	assert.Empty(t, other.GetStopId())
}

func TestVehiclePositions_CompletedTrip(t *testing.T) {
	b, v, now := fixture(t)
	v.Status.Progress.NextWaypointIndex = 3

	vp := b.VehiclePositions([]*domain.Vehicle{v}, now).Entity[0].GetVehicle()
	assert.Equal(t, "north:2", vp.GetStopId())
	assert.Equal(t, gtfs.VehiclePosition_STOPPED_AT, vp.GetCurrentStatus())
	assert.Nil(t, vp.GetPosition().Bearing)
}

func nightRoute(t *testing.T) *Builder {
	t.Helper()
	routes := store.NewRouteStore()
	routes.UpdateAll([]*domain.Route{{
		ID: "night",
		Waypoints: []domain.Waypoint{
			{Name: "Start", Lat: 0, Lon: 0, ScheduledTime: "23:50"},
			{Name: "Dorms", Lat: 0, Lon: 0.09, ScheduledTime: "24:10"},
		},
	}}, "fp")
	return NewBuilder(routes, time.UTC)
}

func TestVehiclePositions_BearingTowardNextStop(t *testing.T) {
	b := nightRoute(t)
	now := time.Date(2026, 3, 3, 0, 40, 0, 0, time.UTC)
	v := &domain.Vehicle{
		Key:     "bus-3",
		RouteID: "night",
		Lat:     0,
		Lon:     0.04,
		Status: &domain.TrackingReport{
			Progress: domain.RouteProgress{NextWaypointIndex: 1},
			Summary:  domain.ProgressSummary{PerStopDisplay: make([]domain.StopDisplay, 2)},
		},
	}

	vp := b.VehiclePositions([]*domain.Vehicle{v}, now).Entity[0].GetVehicle()
	require.NotNil(t, vp.GetPosition().Bearing)
	assert.InDelta(t, 90.0, vp.GetPosition().GetBearing(), 0.01)
}

func TestTripUpdates_ScheduleAfterMidnight(t *testing.T) {
	b := nightRoute(t)
	serviceDay := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 3, 0, 40, 0, 0, time.UTC)
	v := &domain.Vehicle{
		Key:     "bus-3",
		RouteID: "night",
		Status: &domain.TrackingReport{
			Progress: domain.RouteProgress{
				NextWaypointIndex: 1,
				PerWaypointEta: []domain.EtaEntry{
					{WaypointIndex: 1, WaypointName: "Dorms", EstimatedArrival: now.Add(2 * time.Minute)},
				},
			},
			EvaluatedAt: now,
			ServiceDay:  serviceDay,
		},
	}

	tu := b.TripUpdates([]*domain.Vehicle{v}, now).Entity[0].GetTripUpdate()
	require.Len(t, tu.StopTimeUpdate, 1)
	assert.Equal(t, int32(32*60), tu.StopTimeUpdate[0].GetArrival().GetDelay())
}

func TestTripUpdates(t *testing.T) {
	b, v, now := fixture(t)
	unknown := &domain.Vehicle{Key: "bus-9", RouteID: "gone", Status: v.Status}

	msg := b.TripUpdates([]*domain.Vehicle{v, unknown, {Key: "bare"}}, now)
	require.Len(t, msg.Entity, 1)

	tu := msg.Entity[0].GetTripUpdate()
	assert.Equal(t, int32(180), tu.GetDelay())
	require.Len(t, tu.StopTimeUpdate, 2)

	library := tu.StopTimeUpdate[0]
	assert.Equal(t, "north:1", library.GetStopId())
	assert.Equal(t, now.Add(8*time.Minute).Unix(), library.GetArrival().GetTime())
	assert.Equal(t, int32(180), library.GetArrival().GetDelay())

	hostel := tu.StopTimeUpdate[1]
	assert.Nil(t, hostel.GetArrival().Delay, "unscheduled stop carries no delay")
}

func TestMarshal(t *testing.T) {
	b, v, now := fixture(t)
	msg := b.VehiclePositions([]*domain.Vehicle{v}, now)

	data, ct, err := Marshal(msg, false)
	require.NoError(t, err)
	assert.Equal(t, "application/x-protobuf", ct)

	var decoded gtfs.FeedMessage
	require.NoError(t, proto.Unmarshal(data, &decoded))
	assert.Equal(t, "bus-1", decoded.Entity[0].GetVehicle().GetVehicle().GetId())

	data, ct, err = Marshal(msg, true)
	require.NoError(t, err)
	assert.Equal(t, "application/json", ct)
	assert.True(t, json.Valid(data))
	assert.Contains(t, string(data), "gtfs_realtime_version")
}
