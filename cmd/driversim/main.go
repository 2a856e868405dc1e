// Command driversim drives a simulated bus along a catalogue route and
// reports its position to the tracking API on every tick.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"campusbus/internal/domain"
	"campusbus/pkg/routefile"
	"campusbus/pkg/trackapi"
)

func main() {
	_ = godotenv.Load()

	apiURL := flag.String("api", "http://localhost:8080", "tracking API base URL")
	source := flag.String("routes", os.Getenv("ROUTES_SOURCE"), "route catalogue path or URL")
	routeID := flag.String("route", "", "route to drive (default: first in catalogue)")
	vehicleKey := flag.String("vehicle", "", "vehicle key (default: sim-<route>)")
	speed := flag.Float64("speed", 25, "cruising speed in km/h")
	tick := flag.Duration("tick", 5*time.Second, "interval between position reports")
	loop := flag.Bool("loop", false, "start a new trip when the route ends")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := run(*apiURL, *source, *routeID, *vehicleKey, *speed, *tick, *loop, logger); err != nil {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

func run(apiURL, source, routeID, vehicleKey string, speed float64, tick time.Duration, loop bool, logger *slog.Logger) error {
	if source == "" {
		return fmt.Errorf("no route catalogue: pass -routes or set ROUTES_SOURCE")
	}
	if speed <= 0 || tick <= 0 {
		return fmt.Errorf("speed and tick must be positive")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := routefile.NewLoader(source, logger).Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalogue: %w", err)
	}

	route, err := pickRoute(res.Routes, routeID)
	if err != nil {
		return err
	}
	if vehicleKey == "" {
		vehicleKey = "sim-" + route.ID
	}

	client := trackapi.New(apiURL)
	w := newWalker(route)
	stepKm := speed * tick.Hours()

	trip, err := client.StartTrip(ctx, vehicleKey, route.ID, "")
	if err != nil {
		return fmt.Errorf("start trip: %w", err)
	}
	logger.Info("trip started", "vehicle_key", vehicleKey, "route_id", route.ID, "trip_id", trip.TripID)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pos := w.position()
	for {
		v, err := client.PostLocation(ctx, vehicleKey, trackapi.Location{
			Lat:      pos.Lat,
			Lon:      pos.Lon,
			SpeedKmh: speed,
		})
		if err != nil {
			logger.Warn("position report failed", "error", err)
		} else if v.Status != nil {
			logger.Info("position reported",
				"lat", pos.Lat,
				"lon", pos.Lon,
				"percent_complete", v.Status.Summary.PercentComplete,
				"next_waypoint", v.Status.Summary.NextWaypointName,
				"delay_status", v.Status.Delay.Status,
				"delay_minutes", v.Status.Delay.DelayMinutes,
			)
		}

		if w.done() {
			if !loop {
				logger.Info("route completed", "route_id", route.ID)
				return nil
			}
			w.reset()
			if trip, err = client.StartTrip(ctx, vehicleKey, route.ID, ""); err != nil {
				return fmt.Errorf("restart trip: %w", err)
			}
			logger.Info("trip restarted", "trip_id", trip.TripID)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pos = w.advance(stepKm)
		}
	}
}

func pickRoute(routes []*domain.Route, id string) (*domain.Route, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("catalogue has no routes")
	}
	if id == "" {
		return routes[0], nil
	}
	for _, r := range routes {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("route %q not in catalogue", id)
}
