package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"campusbus/internal/store"
)

// ReadinessChecker reports whether a background component has completed its first run
type ReadinessChecker interface {
	IsReady() bool
}

type HealthHandler struct {
	checks map[string]ReadinessChecker
	store  *store.Store
	routes *store.RouteStore
}

func NewHealthHandler(s *store.Store, routes *store.RouteStore, checks map[string]ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		store:  s,
		routes: routes,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready        bool            `json:"ready"`
	Components   map[string]bool `json:"components"`
	VehicleCount int             `json:"vehicleCount"`
	RouteCount   int             `json:"routeCount"`
	ServerTime   time.Time       `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := true
	components := make(map[string]bool, len(h.checks))
	for name, c := range h.checks {
		ok := c.IsReady()
		components[name] = ok
		ready = ready && ok
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ReadyResponse{
		Ready:        ready,
		Components:   components,
		VehicleCount: h.store.Count(),
		RouteCount:   h.routes.GetStats().RoutesCount,
		ServerTime:   time.Now(),
	})
}
