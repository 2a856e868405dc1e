package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"

	"campusbus/internal/domain"
	"campusbus/internal/feed"
	"campusbus/internal/store"
)

// FeedHandler serves the GTFS-Realtime export of the live fleet
type FeedHandler struct {
	store   *store.Store
	builder *feed.Builder
	logger  *slog.Logger
}

func NewFeedHandler(st *store.Store, builder *feed.Builder, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		store:   st,
		builder: builder,
		logger:  logger.With("handler", "gtfs-rt"),
	}
}

func (h *FeedHandler) VehiclePositions(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.builder.VehiclePositions)
}

func (h *FeedHandler) TripUpdates(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.builder.TripUpdates)
}

func (h *FeedHandler) serve(w http.ResponseWriter, r *http.Request, build func([]*domain.Vehicle, time.Time) *gtfs.FeedMessage) {
	start := time.Now()
	asJSON := r.URL.Query().Get("format") == "json"

	vehicles := h.store.Snapshot()
	msg := build(vehicles, start)

	data, contentType, err := feed.Marshal(msg, asJSON)
	if err != nil {
		h.logger.Error("failed to encode feed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to encode feed")
		return
	}

	h.logger.Debug("feed served",
		"path", r.URL.Path,
		"entities", len(msg.Entity),
		"json", asJSON,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
