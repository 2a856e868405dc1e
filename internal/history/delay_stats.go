package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// DelayObservation is one arrival delay measured on a route
type DelayObservation struct {
	RouteID      string
	DelayMinutes int
	At           time.Time
}

// HourlyDelayStats is the aggregate for one route and hour
type HourlyDelayStats struct {
	RouteID          string    `json:"routeId"`
	HourBucket       time.Time `json:"hourBucket"`
	ObservationCount int       `json:"observationCount"`
	MeanDelayMinutes float64   `json:"meanDelayMinutes"`
	StdDevMinutes    float64   `json:"stdDevMinutes"`
	DelayedCount     int       `json:"delayedCount"`
	OnTimeCount      int       `json:"onTimeCount"`
	MaxDelayMinutes  int       `json:"maxDelayMinutes"`
}

// WelfordState holds running mean and variance
type WelfordState struct {
	Count int
	Mean  float64
	M2    float64
}

func (w *WelfordState) Update(v float64) {
	w.Count++
	delta := v - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := v - w.Mean
	w.M2 += delta * delta2
}

// StdDev returns the population standard deviation, 0 below two observations
func (w *WelfordState) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}

// ObserveDelays folds observations into hourly stats. A positive delay
// counts as delayed.
func (db *DB) ObserveDelays(ctx context.Context, observations []DelayObservation) error {
	type bucketKey struct {
		route string
		hour  string
	}
	grouped := make(map[bucketKey][]int)
	for _, obs := range observations {
		if obs.RouteID == "" {
			continue
		}
		k := bucketKey{obs.RouteID, formatTime(obs.At.UTC().Truncate(time.Hour))}
		grouped[k] = append(grouped[k], obs.DelayMinutes)
	}
	if len(grouped) == 0 {
		return nil
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for k, delays := range grouped {
		var w WelfordState
		var delayedCount, onTimeCount, maxDelay int

		err := tx.QueryRowContext(ctx, `
			SELECT observation_count, mean, m2, delayed_count, on_time_count, max_delay
			FROM delay_stats_hourly
			WHERE route_id = ? AND hour_bucket = ?
		`, k.route, k.hour).Scan(&w.Count, &w.Mean, &w.M2, &delayedCount, &onTimeCount, &maxDelay)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read delay stats for %s: %w", k.route, err)
		}

		for _, d := range delays {
			w.Update(float64(d))
			if d > 0 {
				delayedCount++
			} else {
				onTimeCount++
			}
			if d > maxDelay {
				maxDelay = d
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO delay_stats_hourly (route_id, hour_bucket, observation_count,
				mean, m2, delayed_count, on_time_count, max_delay)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (route_id, hour_bucket) DO UPDATE SET
				observation_count = excluded.observation_count,
				mean = excluded.mean,
				m2 = excluded.m2,
				delayed_count = excluded.delayed_count,
				on_time_count = excluded.on_time_count,
				max_delay = excluded.max_delay
		`, k.route, k.hour, w.Count, w.Mean, w.M2, delayedCount, onTimeCount, maxDelay)
		if err != nil {
			return fmt.Errorf("upsert delay stats for %s: %w", k.route, err)
		}
	}

	return tx.Commit()
}

// DelayStats returns hourly stats for a route since the given time, oldest first
func (db *DB) DelayStats(ctx context.Context, routeID string, since time.Time) ([]HourlyDelayStats, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT route_id, hour_bucket, observation_count, mean, m2,
			delayed_count, on_time_count, max_delay
		FROM delay_stats_hourly
		WHERE route_id = ? AND hour_bucket >= ?
		ORDER BY hour_bucket
	`, routeID, formatTime(since.UTC().Truncate(time.Hour)))
	if err != nil {
		return nil, fmt.Errorf("query delay stats: %w", err)
	}
	defer rows.Close()

	result := []HourlyDelayStats{}
	for rows.Next() {
		var s HourlyDelayStats
		var w WelfordState
		var bucket string
		if err := rows.Scan(&s.RouteID, &bucket, &w.Count, &w.Mean, &w.M2,
			&s.DelayedCount, &s.OnTimeCount, &s.MaxDelayMinutes); err != nil {
			return nil, fmt.Errorf("scan delay stats: %w", err)
		}
		s.HourBucket = parseTime(bucket)
		s.ObservationCount = w.Count
		s.MeanDelayMinutes = w.Mean
		s.StdDevMinutes = w.StdDev()
		result = append(result, s)
	}
	return result, rows.Err()
}
