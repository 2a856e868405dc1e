package handler

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"campusbus/internal/store"
)

// Stats tracks server-wide counters
type Stats struct {
	startTime        time.Time
	requestCount     atomic.Int64
	wsConnections    atomic.Int64
	wsMessagesIn     atomic.Int64
	wsMessagesOut    atomic.Int64
	rateLimitBlocked atomic.Int64
}

// Global stats instance
var ServerStats = &Stats{
	startTime: time.Now(),
}

func (s *Stats) IncRequests()         { s.requestCount.Add(1) }
func (s *Stats) IncWSConnections()    { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections()    { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()     { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut()    { s.wsMessagesOut.Add(1) }
func (s *Stats) IncRateLimitBlocked() { s.rateLimitBlocked.Add(1) }

// Backends reports which optional collaborators are running
type Backends struct {
	Redis   bool `json:"redis"`
	NATS    bool `json:"nats"`
	History bool `json:"history"`
}

// LimiterStats exposes rate limiter bookkeeping
type LimiterStats interface {
	Stats() map[string]any
}

type StatsHandler struct {
	vehicleStore *store.Store
	routeStore   *store.RouteStore
	limiter      LimiterStats
	backends     Backends
	version      string
}

func NewStatsHandler(vehicleStore *store.Store, routeStore *store.RouteStore, backends Backends, version string) *StatsHandler {
	return &StatsHandler{
		vehicleStore: vehicleStore,
		routeStore:   routeStore,
		backends:     backends,
		version:      version,
	}
}

func (h *StatsHandler) WithRateLimiter(l LimiterStats) *StatsHandler {
	h.limiter = l
	return h
}

type StatsResponse struct {
	Server    ServerStatsResponse    `json:"server"`
	Vehicles  VehicleStatsResponse   `json:"vehicles"`
	Routes    RouteStatsResponse     `json:"routes"`
	WebSocket WebSocketStatsResponse `json:"websocket"`
	RateLimit map[string]any         `json:"rate_limit,omitempty"`
	Backends  Backends               `json:"backends"`
	Go        GoStatsResponse        `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
	RateLimited   int64     `json:"rate_limited"`
	Version       string    `json:"version"`
}

type VehicleStatsResponse struct {
	Total   int `json:"total"`
	Delayed int `json:"delayed"`
	OnTime  int `json:"on_time"`
}

type RouteStatsResponse struct {
	Routes      int       `json:"routes"`
	Waypoints   int       `json:"waypoints"`
	Fingerprint string    `json:"fingerprint"`
	IsLoaded    bool      `json:"is_loaded"`
	LastUpdate  time.Time `json:"last_update"`
}

type WebSocketStatsResponse struct {
	Connections int64 `json:"connections"`
	MessagesIn  int64 `json:"messages_in"`
	MessagesOut int64 `json:"messages_out"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(ServerStats.startTime)

	delayed, onTime := h.vehicleStore.CountByDelay()
	routeStats := h.routeStore.GetStats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	response := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     ServerStats.startTime,
			RequestCount:  ServerStats.requestCount.Load(),
			RateLimited:   ServerStats.rateLimitBlocked.Load(),
			Version:       h.version,
		},
		Vehicles: VehicleStatsResponse{
			Total:   delayed + onTime,
			Delayed: delayed,
			OnTime:  onTime,
		},
		Routes: RouteStatsResponse{
			Routes:      routeStats.RoutesCount,
			Waypoints:   routeStats.WaypointsCount,
			Fingerprint: routeStats.Fingerprint,
			IsLoaded:    routeStats.IsLoaded,
			LastUpdate:  routeStats.LastUpdate,
		},
		WebSocket: WebSocketStatsResponse{
			Connections: ServerStats.wsConnections.Load(),
			MessagesIn:  ServerStats.wsMessagesIn.Load(),
			MessagesOut: ServerStats.wsMessagesOut.Load(),
		},
		Backends: h.backends,
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}

	if h.limiter != nil {
		response.RateLimit = h.limiter.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	json.NewEncoder(w).Encode(response)
}
