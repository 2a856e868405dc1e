package ingestor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"campusbus/internal/domain"
	"campusbus/internal/history"
	"campusbus/internal/hub"
	"campusbus/internal/metrics"
	"campusbus/internal/store"
	"campusbus/internal/tracking"
)

var ErrNoTrip = errors.New("vehicle has no active trip")

type Broadcaster interface {
	Broadcast(deltas []domain.VehicleDelta)
}

type RouteSource interface {
	GetRoute(id string) (*domain.Route, error)
}

type StatusPublisher interface {
	PublishStatus(v *domain.Vehicle) error
}

type TripPersister interface {
	SaveTrip(ctx context.Context, vehicleKey string, state domain.TripState) error
	Save(ctx context.Context, v *domain.Vehicle, state domain.TripState) error
	Forget(ctx context.Context, vehicleKey string) error
	RestoreTrips(ctx context.Context) (map[string]domain.TripState, map[string]*domain.Vehicle, error)
}

type HistoryRecorder interface {
	RecordArrivals(ctx context.Context, arrivals []history.Arrival) error
	ObserveDelays(ctx context.Context, observations []history.DelayObservation) error
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type Options struct {
	ZoomLevel        int
	RefreshInterval  time.Duration
	HistoryRetention time.Duration
	Tracking         tracking.Options
}

// Sample is one inbound position report
type Sample struct {
	VehicleKey string
	RouteID    string
	TripID     string
	BusNumber  string
	Position   domain.PositionSample
}

// Ingestor runs every position report and refresh tick through the
// tracking pipeline and fans the result out to the collaborators.
type Ingestor struct {
	store       *store.Store
	routes      RouteSource
	broadcaster Broadcaster
	publisher   StatusPublisher
	trips       TripPersister
	history     HistoryRecorder
	metrics     *metrics.Collector
	opts        Options
	logger      *slog.Logger
	now         func() time.Time

	locks sync.Map // vehicle key -> *sync.Mutex

	ready   bool
	readyMu sync.RWMutex
}

func New(st *store.Store, routes RouteSource, broadcaster Broadcaster, opts Options, logger *slog.Logger) *Ingestor {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	return &Ingestor{
		store:       st,
		routes:      routes,
		broadcaster: broadcaster,
		opts:        opts,
		logger:      logger.With("component", "ingestor"),
		now:         time.Now,
	}
}

func (i *Ingestor) WithPublisher(p StatusPublisher) *Ingestor  { i.publisher = p; return i }
func (i *Ingestor) WithTripCache(t TripPersister) *Ingestor    { i.trips = t; return i }
func (i *Ingestor) WithHistory(h HistoryRecorder) *Ingestor    { i.history = h; return i }
func (i *Ingestor) WithMetrics(m *metrics.Collector) *Ingestor { i.metrics = m; return i }

// Ingest evaluates one sample. A route or trip id different from the
// vehicle's current trip starts a new trip.
func (i *Ingestor) Ingest(ctx context.Context, s Sample) (*domain.Vehicle, error) {
	unlock := i.lock(s.VehicleKey)
	defer unlock()

	state, _ := i.store.TripState(s.VehicleKey)
	if s.RouteID != "" && (s.RouteID != state.RouteID || (s.TripID != "" && s.TripID != state.TripID)) {
		state = newTrip(s.RouteID, s.TripID, i.now())
	}
	if state.RouteID == "" {
		i.metrics.SampleRejected("no_trip")
		return nil, ErrNoTrip
	}

	route, err := i.routes.GetRoute(state.RouteID)
	if err != nil {
		i.metrics.SampleRejected("unknown_route")
		return nil, fmt.Errorf("route %q: %w", state.RouteID, err)
	}

	busNumber := s.BusNumber
	if busNumber == "" {
		if prev, ok := i.store.Get(s.VehicleKey); ok && prev.RouteID == state.RouteID {
			busNumber = prev.BusNumber
		}
		if busNumber == "" {
			busNumber = route.BusNumber
		}
	}

	sample := s.Position
	if sample.Timestamp.IsZero() {
		sample.Timestamp = i.now()
	}

	report, next := i.evaluate(route, state, &sample)

	v := &domain.Vehicle{
		Key:       s.VehicleKey,
		BusNumber: busNumber,
		RouteID:   next.RouteID,
		TripID:    next.TripID,
		Lat:       sample.Lat,
		Lon:       sample.Lon,
		SpeedKmh:  sample.SpeedKmh,
		Timestamp: sample.Timestamp,
		TileID:    hub.TileID(sample.Lat, sample.Lon, i.opts.ZoomLevel),
		Status:    &report,
	}

	i.store.SetTripState(s.VehicleKey, next)
	deltas := i.store.Update([]*domain.Vehicle{v})
	i.broadcast(deltas)
	i.metrics.SampleIngested()

	i.publish(v)
	i.persist(ctx, v, next)
	i.recordArrivals(ctx, s.VehicleKey, route, state, next)

	i.logger.Debug("sample ingested",
		"vehicle_key", v.Key,
		"route_id", v.RouteID,
		"next_index", next.NextIndex,
		"delay_status", report.Delay.Status,
		"deltas", len(deltas),
	)

	out := *v
	return &out, nil
}

// StartTrip assigns a vehicle to a route and resets its waypoint progress
func (i *Ingestor) StartTrip(ctx context.Context, vehicleKey, routeID, tripID string) (domain.TripState, error) {
	if _, err := i.routes.GetRoute(routeID); err != nil {
		return domain.TripState{}, fmt.Errorf("route %q: %w", routeID, err)
	}

	unlock := i.lock(vehicleKey)
	defer unlock()

	state := newTrip(routeID, tripID, i.now())
	i.store.SetTripState(vehicleKey, state)

	if i.trips != nil {
		if err := i.trips.SaveTrip(ctx, vehicleKey, state); err != nil {
			i.logger.Warn("failed to cache trip state", "vehicle_key", vehicleKey, "error", err)
		}
	}

	i.logger.Info("trip started", "vehicle_key", vehicleKey, "route_id", routeID, "trip_id", state.TripID)
	return state.Clone(), nil
}

// Restore reloads cached trip states and vehicle snapshots
func (i *Ingestor) Restore(ctx context.Context) error {
	if i.trips == nil {
		return nil
	}
	trips, vehicles, err := i.trips.RestoreTrips(ctx)
	if err != nil {
		return fmt.Errorf("restore trips: %w", err)
	}

	for key, st := range trips {
		i.store.SetTripState(key, st)
	}

	restored := make([]*domain.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		v.TileID = hub.TileID(v.Lat, v.Lon, i.opts.ZoomLevel)
		restored = append(restored, v)
	}
	i.store.Update(restored)
	return nil
}

func (i *Ingestor) Run(ctx context.Context) {
	ticker := time.NewTicker(i.opts.RefreshInterval)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(i.opts.RefreshInterval * 3)
	defer pruneTicker.Stop()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	i.setReady(true)
	i.logger.Info("ingestor ready", "vehicles", i.store.Count(), "refresh_interval", i.opts.RefreshInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.Refresh(ctx)
		case <-pruneTicker.C:
			i.Prune(ctx)
		case <-cleanupTicker.C:
			i.cleanupHistory(ctx)
		}
	}
}

// Refresh re-evaluates every tracked vehicle against the current clock,
// which is how a bus that went silent gets flagged as stopped.
func (i *Ingestor) Refresh(ctx context.Context) {
	start := time.Now()
	vehicles := i.store.Snapshot()
	sort.Slice(vehicles, func(a, b int) bool { return vehicles[a].Key < vehicles[b].Key })

	var deltas []domain.VehicleDelta
	for _, v := range vehicles {
		if d := i.refreshVehicle(ctx, v.Key); d != nil {
			deltas = append(deltas, *d)
			i.publish(d.Vehicle)
		}
	}
	i.broadcast(deltas)

	delayed, onTime := i.store.CountByDelay()
	i.metrics.SetFleet(delayed+onTime, delayed)

	i.logger.Debug("refresh completed",
		"vehicles", len(vehicles),
		"changed", len(deltas),
		"delayed", delayed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// refreshVehicle re-runs the pipeline on the last sample. Progress found
// this way (a catalogue reload moving a stop under a parked bus) is cached
// and recorded exactly like progress from a new sample.
func (i *Ingestor) refreshVehicle(ctx context.Context, key string) *domain.VehicleDelta {
	unlock := i.lock(key)
	defer unlock()

	v, ok := i.store.Get(key)
	if !ok {
		return nil
	}
	state, ok := i.store.TripState(key)
	if !ok || state.RouteID == "" {
		return nil
	}
	route, err := i.routes.GetRoute(state.RouteID)
	if err != nil {
		i.logger.Debug("route vanished from catalogue", "vehicle_key", key, "route_id", state.RouteID)
		return nil
	}

	sample := v.Sample()
	report, next := i.evaluate(route, state, &sample)
	i.store.SetTripState(key, next)
	delta := i.store.Restatus(key, &report)

	if delta != nil || next.NextIndex != state.NextIndex {
		v.Status = &report
		i.persist(ctx, v, next)
	}
	i.recordArrivals(ctx, key, route, state, next)
	return delta
}

func (i *Ingestor) Prune(ctx context.Context) {
	deltas := i.store.PruneStale()
	if len(deltas) == 0 {
		return
	}
	i.broadcast(deltas)

	for _, d := range deltas {
		i.locks.Delete(d.Key)
		if i.trips != nil {
			if err := i.trips.Forget(ctx, d.Key); err != nil {
				i.logger.Debug("failed to drop cached trip", "vehicle_key", d.Key, "error", err)
			}
		}
	}
	i.logger.Info("pruned stale vehicles", "count", len(deltas))
}

func (i *Ingestor) IsReady() bool {
	i.readyMu.RLock()
	defer i.readyMu.RUnlock()
	return i.ready
}

func (i *Ingestor) setReady(ready bool) {
	i.readyMu.Lock()
	defer i.readyMu.Unlock()
	i.ready = ready
}

func (i *Ingestor) evaluate(route *domain.Route, state domain.TripState, sample *domain.PositionSample) (domain.TrackingReport, domain.TripState) {
	start := time.Now()
	report, next := tracking.Evaluate(route, state, sample, i.now(), i.opts.Tracking)
	i.metrics.EvaluationObserve(string(report.Delay.Status), time.Since(start))
	return report, next
}

func (i *Ingestor) lock(key string) func() {
	m, _ := i.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (i *Ingestor) broadcast(deltas []domain.VehicleDelta) {
	if i.broadcaster != nil && len(deltas) > 0 {
		i.broadcaster.Broadcast(deltas)
	}
}

func (i *Ingestor) publish(v *domain.Vehicle) {
	if i.publisher == nil {
		return
	}
	if err := i.publisher.PublishStatus(v); err != nil {
		i.logger.Debug("status publish failed", "vehicle_key", v.Key, "error", err)
	}
}

func (i *Ingestor) persist(ctx context.Context, v *domain.Vehicle, state domain.TripState) {
	if i.trips == nil {
		return
	}
	if err := i.trips.Save(ctx, v, state); err != nil {
		i.logger.Warn("failed to cache trip state", "vehicle_key", v.Key, "error", err)
	}
}

func (i *Ingestor) recordArrivals(ctx context.Context, key string, route *domain.Route, prev, next domain.TripState) {
	if i.history == nil {
		return
	}
	arrivals, observations := newArrivals(key, route, prev, next, i.opts.Tracking.Location)
	if len(arrivals) == 0 {
		return
	}

	if err := i.history.RecordArrivals(ctx, arrivals); err != nil {
		i.logger.Warn("failed to record arrivals", "vehicle_key", key, "error", err)
		return
	}
	for range arrivals {
		i.metrics.ArrivalRecorded()
	}
	if err := i.history.ObserveDelays(ctx, observations); err != nil {
		i.logger.Warn("failed to update delay stats", "route_id", route.ID, "error", err)
	}
}

func (i *Ingestor) cleanupHistory(ctx context.Context) {
	if i.history == nil || i.opts.HistoryRetention <= 0 {
		return
	}
	if _, err := i.history.Cleanup(ctx, i.opts.HistoryRetention); err != nil {
		i.logger.Error("history cleanup failed", "error", err)
	}
}

// newArrivals lists the waypoints reached between prev and next, with their
// delay against schedule when the waypoint is scheduled.
func newArrivals(key string, route *domain.Route, prev, next domain.TripState, loc *time.Location) ([]history.Arrival, []history.DelayObservation) {
	var arrivals []history.Arrival
	var observations []history.DelayObservation

	indices := make([]int, 0, len(next.Arrivals))
	for idx := range next.Arrivals {
		if _, seen := prev.Arrivals[idx]; !seen {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	if len(indices) == 0 {
		return nil, nil
	}
	day := tracking.ServiceDayOf(next, next.Arrivals[indices[0]], loc)

	for _, idx := range indices {
		if idx < 0 || idx >= len(route.Waypoints) {
			continue
		}
		at := next.Arrivals[idx]
		a := history.Arrival{
			VehicleKey:    key,
			TripID:        next.TripID,
			RouteID:       route.ID,
			WaypointIndex: idx,
			WaypointName:  route.Waypoints[idx].Name,
			ArrivedAt:     at,
		}
		if sched, ok := route.ScheduledMinutes(idx); ok {
			delay := tracking.MinutesIntoServiceDay(day, at) - sched
			a.ScheduledMinutes = &sched
			a.DelayMinutes = &delay
			observations = append(observations, history.DelayObservation{
				RouteID:      route.ID,
				DelayMinutes: delay,
				At:           at,
			})
		}
		arrivals = append(arrivals, a)
	}
	return arrivals, observations
}

func newTrip(routeID, tripID string, now time.Time) domain.TripState {
	if tripID == "" {
		tripID = uuid.NewString()
	}
	return domain.TripState{
		RouteID:   routeID,
		TripID:    tripID,
		Arrivals:  map[int]time.Time{},
		StartedAt: now,
	}
}
