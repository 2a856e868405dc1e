// Package feed exports tracked vehicles as GTFS-Realtime feeds.
package feed

import (
	"fmt"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"campusbus/internal/domain"
	"campusbus/internal/tracking"
)

const gtfsRealtimeVersion = "2.0"

type RouteLookup interface {
	GetRoute(id string) (*domain.Route, error)
}

type Builder struct {
	routes RouteLookup
	loc    *time.Location
}

func NewBuilder(routes RouteLookup, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.Local
	}
	return &Builder{routes: routes, loc: loc}
}

// StopID is the feed identifier of waypoint i on a route
func StopID(routeID string, i int) string {
	return fmt.Sprintf("%s:%d", routeID, i)
}

func (b *Builder) VehiclePositions(vehicles []*domain.Vehicle, now time.Time) *gtfs.FeedMessage {
	msg := newFeed(now)

	for _, v := range vehicles {
		vp := &gtfs.VehiclePosition{
			Trip:    tripDescriptor(v),
			Vehicle: vehicleDescriptor(v),
			Position: &gtfs.Position{
				Latitude:  proto.Float32(float32(v.Lat)),
				Longitude: proto.Float32(float32(v.Lon)),
				Speed:     proto.Float32(float32(v.SpeedKmh / 3.6)),
			},
			Timestamp: unix(v.Timestamp),
		}

		if v.Status != nil && v.RouteID != "" {
			next := v.Status.Progress.NextWaypointIndex
			if route, err := b.routes.GetRoute(v.RouteID); err == nil && next < len(route.Waypoints) {
				bearing := tracking.Bearing(domain.Point{Lat: v.Lat, Lon: v.Lon}, route.Waypoints[next].Point())
				vp.Position.Bearing = proto.Float32(float32(bearing))
			}
			total := len(v.Status.Summary.PerStopDisplay)
			if next < total {
				vp.CurrentStopSequence = proto.Uint32(uint32(next))
				vp.StopId = proto.String(StopID(v.RouteID, next))
				vp.CurrentStatus = gtfs.VehiclePosition_IN_TRANSIT_TO.Enum()
			} else if total > 0 {
				vp.CurrentStopSequence = proto.Uint32(uint32(total - 1))
				vp.StopId = proto.String(StopID(v.RouteID, total-1))
				vp.CurrentStatus = gtfs.VehiclePosition_STOPPED_AT.Enum()
			}
		}

		msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
			Id:      proto.String("vp-" + v.Key),
			Vehicle: vp,
		})
	}

	return msg
}

// TripUpdates emits one entity per vehicle with a tracking report. Each
// remaining waypoint gets its predicted arrival and, when scheduled, the
// delay against the trip's service day, or the day the prediction falls on
// for reports without one.
func (b *Builder) TripUpdates(vehicles []*domain.Vehicle, now time.Time) *gtfs.FeedMessage {
	msg := newFeed(now)

	for _, v := range vehicles {
		if v.Status == nil || v.RouteID == "" {
			continue
		}
		route, err := b.routes.GetRoute(v.RouteID)
		if err != nil {
			continue
		}

		tu := &gtfs.TripUpdate{
			Trip:      tripDescriptor(v),
			Vehicle:   vehicleDescriptor(v),
			Timestamp: unix(v.Status.EvaluatedAt),
			Delay:     proto.Int32(int32(v.Status.Delay.DelayMinutes * 60)),
		}

		for _, eta := range v.Status.Progress.PerWaypointEta {
			event := &gtfs.TripUpdate_StopTimeEvent{
				Time: proto.Int64(eta.EstimatedArrival.Unix()),
			}
			if sched, ok := route.ScheduledMinutes(eta.WaypointIndex); ok {
				scheduledAt := b.scheduledAt(v.Status.ServiceDay, eta.EstimatedArrival, sched)
				event.Delay = proto.Int32(int32(eta.EstimatedArrival.Sub(scheduledAt) / time.Second))
			}
			tu.StopTimeUpdate = append(tu.StopTimeUpdate, &gtfs.TripUpdate_StopTimeUpdate{
				StopSequence: proto.Uint32(uint32(eta.WaypointIndex)),
				StopId:       proto.String(StopID(v.RouteID, eta.WaypointIndex)),
				Arrival:      event,
			})
		}

		msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
			Id:         proto.String("tu-" + v.Key),
			TripUpdate: tu,
		})
	}

	return msg
}

func (b *Builder) scheduledAt(serviceDay, ref time.Time, minutes int) time.Time {
	if serviceDay.IsZero() {
		serviceDay = ref
	}
	midnight := tracking.ServiceDayStart(serviceDay, b.loc)
	return midnight.Add(time.Duration(minutes) * time.Minute)
}

// Marshal encodes a feed as protobuf, or as JSON when asJSON is set
func Marshal(msg *gtfs.FeedMessage, asJSON bool) ([]byte, string, error) {
	if asJSON {
		data, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
		return data, "application/json", err
	}
	data, err := proto.Marshal(msg)
	return data, "application/x-protobuf", err
}

func newFeed(now time.Time) *gtfs.FeedMessage {
	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           unix(now),
		},
		Entity: []*gtfs.FeedEntity{},
	}
}

func tripDescriptor(v *domain.Vehicle) *gtfs.TripDescriptor {
	if v.RouteID == "" && v.TripID == "" {
		return nil
	}
	td := &gtfs.TripDescriptor{}
	if v.RouteID != "" {
		td.RouteId = proto.String(v.RouteID)
	}
	if v.TripID != "" {
		td.TripId = proto.String(v.TripID)
	}
	return td
}

func vehicleDescriptor(v *domain.Vehicle) *gtfs.VehicleDescriptor {
	vd := &gtfs.VehicleDescriptor{Id: proto.String(v.Key)}
	if v.BusNumber != "" {
		vd.Label = proto.String(v.BusNumber)
	}
	return vd
}

func unix(t time.Time) *uint64 {
	if t.IsZero() {
		return nil
	}
	return proto.Uint64(uint64(t.Unix()))
}
