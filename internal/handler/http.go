package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"campusbus/internal/domain"
	"campusbus/internal/ingestor"
	"campusbus/internal/store"
)

const maxBodyBytes = 64 << 10

// Tracker accepts position reports and trip assignments
type Tracker interface {
	Ingest(ctx context.Context, s ingestor.Sample) (*domain.Vehicle, error)
	StartTrip(ctx context.Context, vehicleKey, routeID, tripID string) (domain.TripState, error)
}

type HTTPHandler struct {
	store   *store.Store
	tracker Tracker
	logger  *slog.Logger
}

func NewHTTPHandler(store *store.Store, tracker Tracker, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{
		store:   store,
		tracker: tracker,
		logger:  logger.With("handler", "vehicles"),
	}
}

type VehiclesResponse struct {
	Vehicles   []*domain.Vehicle `json:"vehicles"`
	Count      int               `json:"count"`
	ServerTime time.Time         `json:"serverTime"`
}

// LocationRequest is the body of a driver position report
type LocationRequest struct {
	Lat       *float64   `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon       *float64   `json:"lon" validate:"required,gte=-180,lte=180"`
	SpeedKmh  float64    `json:"speedKmh" validate:"gte=0"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	RouteID   string     `json:"routeId,omitempty" validate:"omitempty,max=64"`
	TripID    string     `json:"tripId,omitempty" validate:"omitempty,max=64"`
	BusNumber string     `json:"busNumber,omitempty" validate:"omitempty,max=32"`
}

// TripRequest assigns a vehicle to a route
type TripRequest struct {
	RouteID string `json:"routeId" validate:"required,max=64"`
	TripID  string `json:"tripId,omitempty" validate:"omitempty,max=64"`
}

type TripResponse struct {
	VehicleKey string           `json:"vehicleKey"`
	Trip       domain.TripState `json:"trip"`
}

type EtaResponse struct {
	VehicleKey  string            `json:"vehicleKey"`
	RouteID     string            `json:"routeId"`
	Etas        []domain.EtaEntry `json:"etas"`
	EvaluatedAt time.Time         `json:"evaluatedAt"`
}

type ProgressResponse struct {
	VehicleKey  string                 `json:"vehicleKey"`
	RouteID     string                 `json:"routeId"`
	Progress    domain.RouteProgress   `json:"progress"`
	Summary     domain.ProgressSummary `json:"summary"`
	EvaluatedAt time.Time              `json:"evaluatedAt"`
}

type DelayResponse struct {
	VehicleKey  string              `json:"vehicleKey"`
	RouteID     string              `json:"routeId"`
	Delay       domain.DelayVerdict `json:"delay"`
	EvaluatedAt time.Time           `json:"evaluatedAt"`
}

func (h *HTTPHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{}

	opts.RouteID = r.URL.Query().Get("route")

	if bboxStr := r.URL.Query().Get("bbox"); bboxStr != "" {
		parts := strings.Split(bboxStr, ",")
		if len(parts) != 4 {
			respondError(w, http.StatusBadRequest, "invalid bbox format: expected minLat,minLon,maxLat,maxLon")
			return
		}
		bbox, err := parseBBox(parts)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid bbox values: "+err.Error())
			return
		}
		opts.BBox = bbox
	}

	if delayed := r.URL.Query().Get("delayed"); delayed != "" {
		b, err := strconv.ParseBool(delayed)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid delayed parameter: must be true or false")
			return
		}
		opts.DelayedOnly = b
	}

	vehicles := h.store.List(opts)

	respondJSON(w, http.StatusOK, VehiclesResponse{
		Vehicles:   vehicles,
		Count:      len(vehicles),
		ServerTime: time.Now(),
	})
}

func (h *HTTPHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := h.vehicle(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, vehicle)
}

func (h *HTTPHandler) GetETA(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := h.trackedVehicle(w, r)
	if !ok {
		return
	}
	etas := vehicle.Status.Progress.PerWaypointEta
	if etas == nil {
		etas = []domain.EtaEntry{}
	}
	respondJSON(w, http.StatusOK, EtaResponse{
		VehicleKey:  vehicle.Key,
		RouteID:     vehicle.RouteID,
		Etas:        etas,
		EvaluatedAt: vehicle.Status.EvaluatedAt,
	})
}

func (h *HTTPHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := h.trackedVehicle(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ProgressResponse{
		VehicleKey:  vehicle.Key,
		RouteID:     vehicle.RouteID,
		Progress:    vehicle.Status.Progress,
		Summary:     vehicle.Status.Summary,
		EvaluatedAt: vehicle.Status.EvaluatedAt,
	})
}

func (h *HTTPHandler) GetDelay(w http.ResponseWriter, r *http.Request) {
	vehicle, ok := h.trackedVehicle(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, DelayResponse{
		VehicleKey:  vehicle.Key,
		RouteID:     vehicle.RouteID,
		Delay:       vehicle.Status.Delay,
		EvaluatedAt: vehicle.Status.EvaluatedAt,
	})
}

func (h *HTTPHandler) PostLocation(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing vehicle key")
		return
	}

	var req LocationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sample := ingestor.Sample{
		VehicleKey: key,
		RouteID:    req.RouteID,
		TripID:     req.TripID,
		BusNumber:  req.BusNumber,
		Position: domain.PositionSample{
			Lat:      *req.Lat,
			Lon:      *req.Lon,
			SpeedKmh: req.SpeedKmh,
		},
	}
	if req.Timestamp != nil {
		sample.Position.Timestamp = *req.Timestamp
	}

	vehicle, err := h.tracker.Ingest(r.Context(), sample)
	if err != nil {
		h.logger.Debug("sample rejected", "vehicle_key", key, "error", err)
		respondTrackerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, vehicle)
}

func (h *HTTPHandler) PostTrip(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing vehicle key")
		return
	}

	var req TripRequest
	if !decodeBody(w, r, &req) {
		return
	}

	state, err := h.tracker.StartTrip(r.Context(), key, req.RouteID, req.TripID)
	if err != nil {
		h.logger.Debug("trip rejected", "vehicle_key", key, "route_id", req.RouteID, "error", err)
		respondTrackerError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, TripResponse{VehicleKey: key, Trip: state})
}

func (h *HTTPHandler) vehicle(w http.ResponseWriter, r *http.Request) (*domain.Vehicle, bool) {
	key := r.PathValue("key")
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing vehicle key")
		return nil, false
	}

	vehicle, ok := h.store.Get(key)
	if !ok {
		respondError(w, http.StatusNotFound, "vehicle not found")
		return nil, false
	}
	return vehicle, true
}

func (h *HTTPHandler) trackedVehicle(w http.ResponseWriter, r *http.Request) (*domain.Vehicle, bool) {
	vehicle, ok := h.vehicle(w, r)
	if !ok {
		return nil, false
	}
	if vehicle.Status == nil {
		respondError(w, http.StatusNotFound, "vehicle has no tracking report")
		return nil, false
	}
	return vehicle, true
}

func parseBBox(parts []string) (*domain.BoundingBox, error) {
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	bb := &domain.BoundingBox{
		MinLat: vals[0], MinLon: vals[1],
		MaxLat: vals[2], MaxLon: vals[3],
	}
	if bb.MinLat > bb.MaxLat || bb.MinLon > bb.MaxLon {
		return nil, errors.New("min must not exceed max")
	}
	return bb, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody decodes and validates a JSON body, writing a 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request: " + err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

func respondTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUnknownRoute):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ingestor.ErrNoTrip):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
