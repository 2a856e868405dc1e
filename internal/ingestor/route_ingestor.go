package ingestor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campusbus/internal/cache"
	"campusbus/internal/domain"
	"campusbus/internal/metrics"
	"campusbus/internal/store"
	"campusbus/pkg/routefile"
)

type CatalogueLoader interface {
	Load(ctx context.Context) (*routefile.Result, error)
}

// CatalogueCache keeps the last good catalogue for start-up when the source is unreachable
type CatalogueCache interface {
	SaveCatalogue(ctx context.Context, routes []*domain.Route, fingerprint string) error
	LoadCatalogue(ctx context.Context) (*cache.CatalogueSnapshot, bool, error)
}

type RouteIngestor struct {
	loader         CatalogueLoader
	store          *store.RouteStore
	cache          CatalogueCache
	metrics        *metrics.Collector
	updateInterval time.Duration
	logger         *slog.Logger
	onUpdate       func(context.Context)

	ready   bool
	readyMu sync.RWMutex
}

func NewRouteIngestor(loader CatalogueLoader, st *store.RouteStore, updateInterval time.Duration, logger *slog.Logger) *RouteIngestor {
	return &RouteIngestor{
		loader:         loader,
		store:          st,
		updateInterval: updateInterval,
		logger:         logger.With("component", "route_ingestor"),
	}
}

func (i *RouteIngestor) WithCache(c CatalogueCache) *RouteIngestor       { i.cache = c; return i }
func (i *RouteIngestor) WithMetrics(m *metrics.Collector) *RouteIngestor { i.metrics = m; return i }

// Init performs the first load. The catalogue is required, so failure is
// returned unless a cached copy can stand in.
func (i *RouteIngestor) Init(ctx context.Context) error {
	err := i.update(ctx)
	if err == nil {
		return nil
	}
	if i.cache == nil {
		return err
	}

	snap, found, cacheErr := i.cache.LoadCatalogue(ctx)
	if cacheErr != nil || !found {
		return err
	}

	i.store.UpdateAll(snap.Routes, snap.Fingerprint)
	i.setReady(true)
	i.logger.Warn("route source unavailable, using cached catalogue",
		"error", err,
		"routes", len(snap.Routes),
		"saved_at", snap.SavedAt,
	)
	return nil
}

func (i *RouteIngestor) Start(ctx context.Context) {
	if i.updateInterval <= 0 {
		return
	}
	ticker := time.NewTicker(i.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := i.update(ctx); err != nil {
				i.logger.Error("route catalogue reload failed", "error", err)
			}
		}
	}
}

func (i *RouteIngestor) update(ctx context.Context) error {
	start := time.Now()

	res, err := i.loader.Load(ctx)
	if err != nil {
		i.metrics.RouteReload("failed", 0)
		return fmt.Errorf("load route catalogue: %w", err)
	}

	if res.Fingerprint == i.store.Fingerprint() {
		i.metrics.RouteReload("unchanged", len(res.Routes))
		i.logger.Debug("route catalogue unchanged", "fingerprint", res.Fingerprint)
		return nil
	}

	i.store.UpdateAll(res.Routes, res.Fingerprint)
	i.metrics.RouteReload("applied", len(res.Routes))

	if !i.IsReady() {
		i.setReady(true)
	}

	if i.cache != nil {
		if err := i.cache.SaveCatalogue(ctx, res.Routes, res.Fingerprint); err != nil {
			i.logger.Warn("failed to cache route catalogue", "error", err)
		}
	}

	if i.onUpdate != nil {
		i.onUpdate(ctx)
	}

	i.logger.Info("route catalogue applied",
		"routes", len(res.Routes),
		"fingerprint", res.Fingerprint,
		"total_duration", time.Since(start),
	)
	return nil
}

func (i *RouteIngestor) IsReady() bool {
	i.readyMu.RLock()
	defer i.readyMu.RUnlock()
	return i.ready
}

func (i *RouteIngestor) setReady(ready bool) {
	i.readyMu.Lock()
	defer i.readyMu.Unlock()
	i.ready = ready
}

func (i *RouteIngestor) SetOnUpdate(fn func(context.Context)) {
	i.onUpdate = fn
}
