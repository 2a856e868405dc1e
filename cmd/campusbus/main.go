package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"campusbus/internal/cache"
	"campusbus/internal/config"
	"campusbus/internal/feed"
	"campusbus/internal/handler"
	"campusbus/internal/history"
	"campusbus/internal/hub"
	"campusbus/internal/ingestor"
	"campusbus/internal/metrics"
	"campusbus/internal/middleware"
	"campusbus/internal/publisher"
	"campusbus/internal/store"
	"campusbus/pkg/routefile"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting campusbus server",
		"version", version,
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"routes_source", cfg.RoutesSource,
		"redis_enabled", cfg.RedisEnabled,
		"nats_enabled", cfg.NATSURL != "",
		"history_enabled", cfg.HistoryDBPath != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector(cfg.RefreshInterval)
	vehicleStore := store.New(cfg.VehicleStaleAfter)
	routeStore := store.NewRouteStore()
	wsHub := hub.NewHub(logger, collector)

	routeIng := ingestor.NewRouteIngestor(
		routefile.NewLoader(cfg.RoutesSource, logger),
		routeStore,
		cfg.RoutesReloadInterval,
		logger,
	).WithMetrics(collector)

	ing := ingestor.New(vehicleStore, routeStore, wsHub, ingestor.Options{
		ZoomLevel:        cfg.TileZoomLevel,
		RefreshInterval:  cfg.RefreshInterval,
		HistoryRetention: cfg.HistoryRetention,
		Tracking:         cfg.TrackingOptions(),
	}, logger).WithMetrics(collector)

	backends := handler.Backends{}

	var redisCache *cache.RedisCache
	if cfg.RedisEnabled {
		redisCache, err = cache.NewRedisCache(cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer redisCache.Close()
			tripCache := cache.NewTripCache(redisCache, cfg.CacheTTL, logger)
			routeIng.WithCache(tripCache)
			ing.WithTripCache(tripCache)
			backends.Redis = true
		}
	}

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, collector, logger)
		if err != nil {
			logger.Warn("nats unavailable, status publishing disabled", "url", cfg.NATSURL, "error", err)
		} else {
			defer pub.Close()
			ing.WithPublisher(pub)
			backends.NATS = true
		}
	}

	var historyReader handler.HistoryReader
	if cfg.HistoryDBPath != "" {
		historyDB, err := history.Open(ctx, cfg.HistoryDBPath, logger)
		if err != nil {
			logger.Warn("history database unavailable, arrival recording disabled", "path", cfg.HistoryDBPath, "error", err)
		} else {
			defer historyDB.Close()
			ing.WithHistory(historyDB)
			historyReader = historyDB
			backends.History = true
		}
	}

	if err := routeIng.Init(ctx); err != nil {
		logger.Error("failed to load route catalogue", "source", cfg.RoutesSource, "error", err)
		os.Exit(1)
	}
	routeIng.SetOnUpdate(ing.Refresh)

	if err := ing.Restore(ctx); err != nil {
		logger.Warn("failed to restore cached trips", "error", err)
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger).
		OnBlocked(handler.ServerStats.IncRateLimitBlocked)
	defer rateLimiter.Stop()

	httpHandler := handler.NewHTTPHandler(vehicleStore, ing, logger)
	routesHandler := handler.NewRoutesHandler(routeStore, vehicleStore, historyReader, logger)
	feedHandler := handler.NewFeedHandler(vehicleStore, feed.NewBuilder(routeStore, cfg.Location), logger)
	wsHandler := handler.NewWSHandler(wsHub, vehicleStore, routeStore, cfg.TileZoomLevel, logger)
	checks := map[string]handler.ReadinessChecker{
		"routes":   routeIng,
		"ingestor": ing,
	}
	if backends.Redis {
		checks["redis"] = redisCache
	}
	healthHandler := handler.NewHealthHandler(vehicleStore, routeStore, checks)
	statsHandler := handler.NewStatsHandler(vehicleStore, routeStore, backends, version).
		WithRateLimiter(rateLimiter)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/vehicles", httpHandler.ListVehicles)
	mux.HandleFunc("GET /v1/vehicles/{key}", httpHandler.GetVehicle)
	mux.HandleFunc("GET /v1/vehicles/{key}/eta", httpHandler.GetETA)
	mux.HandleFunc("GET /v1/vehicles/{key}/progress", httpHandler.GetProgress)
	mux.HandleFunc("GET /v1/vehicles/{key}/delay", httpHandler.GetDelay)
	mux.HandleFunc("POST /v1/vehicles/{key}/location", httpHandler.PostLocation)
	mux.HandleFunc("POST /v1/vehicles/{key}/trip", httpHandler.PostTrip)
	mux.HandleFunc("/v1/ws", wsHandler.ServeWS)

	mux.HandleFunc("GET /v1/routes", routesHandler.ListRoutes)
	mux.HandleFunc("GET /v1/routes/{id}", routesHandler.GetRoute)
	mux.HandleFunc("GET /v1/routes/{id}/vehicles", routesHandler.GetRouteVehicles)
	mux.HandleFunc("GET /v1/routes/{id}/delays", routesHandler.GetRouteDelays)
	mux.HandleFunc("GET /v1/routes/{id}/arrivals", routesHandler.GetRouteArrivals)

	mux.HandleFunc("GET /v1/gtfs-rt/vehicle-positions", feedHandler.VehiclePositions)
	mux.HandleFunc("GET /v1/gtfs-rt/trip-updates", feedHandler.TripUpdates)

	mux.HandleFunc("GET /v1/stats", statsHandler.GetStats)
	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)
	mux.Handle("GET /metrics", collector.Handler())

	var h http.Handler = mux
	h = handler.GzipMiddleware(h)
	h = rateLimiter.Middleware(h)
	h = handler.CORSMiddleware(cfg.CORSAllowedOrigins)(h)
	h = handler.CountRequests(h)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)

	go ing.Run(ctx)

	go routeIng.Start(ctx)

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
