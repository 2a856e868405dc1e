package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"campusbus/internal/domain"
	"campusbus/internal/history"
	"campusbus/internal/store"
)

const (
	defaultDelayWindowHours = 24
	maxDelayWindowHours     = 24 * 30
	maxArrivalsLimit        = 1000
)

// HistoryReader serves the recorded arrival history
type HistoryReader interface {
	Arrivals(ctx context.Context, routeID string, limit int) ([]history.Arrival, error)
	DelayStats(ctx context.Context, routeID string, since time.Time) ([]history.HourlyDelayStats, error)
}

type RoutesHandler struct {
	routes   *store.RouteStore
	vehicles *store.Store
	history  HistoryReader
	logger   *slog.Logger
}

// NewRoutesHandler builds the route endpoints. history may be nil when
// arrival recording is disabled.
func NewRoutesHandler(routes *store.RouteStore, vehicles *store.Store, history HistoryReader, logger *slog.Logger) *RoutesHandler {
	return &RoutesHandler{
		routes:   routes,
		vehicles: vehicles,
		history:  history,
		logger:   logger.With("handler", "routes"),
	}
}

type RoutesResponse struct {
	Routes      []*domain.Route `json:"routes"`
	Count       int             `json:"count"`
	Fingerprint string          `json:"fingerprint"`
	ServerTime  time.Time       `json:"serverTime"`
}

type RouteDelaysResponse struct {
	RouteID string                     `json:"routeId"`
	Since   time.Time                  `json:"since"`
	Hours   []history.HourlyDelayStats `json:"hours"`
}

type RouteArrivalsResponse struct {
	RouteID  string            `json:"routeId"`
	Arrivals []history.Arrival `json:"arrivals"`
	Count    int               `json:"count"`
}

func (h *RoutesHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.logger.Debug("ListRoutes request",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)

	stats := h.routes.GetStats()
	if !stats.IsLoaded {
		h.logger.Warn("ListRoutes called but catalogue not loaded yet")
		w.Header().Set("Retry-After", "30")
		respondError(w, http.StatusServiceUnavailable, "route catalogue is loading, please retry")
		return
	}

	etag := fmt.Sprintf(`"%s"`, stats.Fingerprint)
	if r.Header.Get("If-None-Match") == etag {
		h.logger.Debug("ListRoutes not modified (ETag match)")
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)

	routes := h.routes.GetAllRoutes()

	h.logger.Debug("ListRoutes response",
		"count", len(routes),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	respondJSON(w, http.StatusOK, RoutesResponse{
		Routes:      routes,
		Count:       len(routes),
		Fingerprint: stats.Fingerprint,
		ServerTime:  time.Now(),
	})
}

func (h *RoutesHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, ok := h.route(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, route)
}

func (h *RoutesHandler) GetRouteVehicles(w http.ResponseWriter, r *http.Request) {
	route, ok := h.route(w, r)
	if !ok {
		return
	}

	vehicles := h.vehicles.List(store.ListOptions{RouteID: route.ID})

	respondJSON(w, http.StatusOK, VehiclesResponse{
		Vehicles:   vehicles,
		Count:      len(vehicles),
		ServerTime: time.Now(),
	})
}

func (h *RoutesHandler) GetRouteDelays(w http.ResponseWriter, r *http.Request) {
	if !h.historyEnabled(w) {
		return
	}
	route, ok := h.route(w, r)
	if !ok {
		return
	}

	hours, err := intParam(r, "hours", defaultDelayWindowHours, maxDelayWindowHours)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	stats, err := h.history.DelayStats(r.Context(), route.ID, since)
	if err != nil {
		h.logger.Error("failed to read delay stats", "route_id", route.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read delay statistics")
		return
	}

	respondJSON(w, http.StatusOK, RouteDelaysResponse{
		RouteID: route.ID,
		Since:   since.UTC().Truncate(time.Hour),
		Hours:   stats,
	})
}

func (h *RoutesHandler) GetRouteArrivals(w http.ResponseWriter, r *http.Request) {
	if !h.historyEnabled(w) {
		return
	}
	route, ok := h.route(w, r)
	if !ok {
		return
	}

	limit, err := intParam(r, "limit", 100, maxArrivalsLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	arrivals, err := h.history.Arrivals(r.Context(), route.ID, limit)
	if err != nil {
		h.logger.Error("failed to read arrivals", "route_id", route.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read arrivals")
		return
	}
	if arrivals == nil {
		arrivals = []history.Arrival{}
	}

	respondJSON(w, http.StatusOK, RouteArrivalsResponse{
		RouteID:  route.ID,
		Arrivals: arrivals,
		Count:    len(arrivals),
	})
}

func (h *RoutesHandler) route(w http.ResponseWriter, r *http.Request) (*domain.Route, bool) {
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing route id")
		return nil, false
	}

	route, err := h.routes.GetRoute(id)
	if errors.Is(err, store.ErrUnknownRoute) {
		h.logger.Debug("route not found", "route_id", id)
		respondError(w, http.StatusNotFound, "route not found")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return route, true
}

func (h *RoutesHandler) historyEnabled(w http.ResponseWriter) bool {
	if h.history == nil {
		respondError(w, http.StatusServiceUnavailable, "arrival history is disabled")
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def, maxVal int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s parameter: must be a positive integer", name)
	}
	return min(v, maxVal), nil
}
