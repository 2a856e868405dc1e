package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Arrival struct {
	VehicleKey       string    `json:"vehicleKey"`
	TripID           string    `json:"tripId,omitempty"`
	RouteID          string    `json:"routeId"`
	WaypointIndex    int       `json:"waypointIndex"`
	WaypointName     string    `json:"waypointName"`
	ScheduledMinutes *int      `json:"scheduledMinutes,omitempty"`
	ArrivedAt        time.Time `json:"arrivedAt"`
	DelayMinutes     *int      `json:"delayMinutes,omitempty"`
}

// RecordArrivals inserts arrivals, ignoring ones already recorded for the same trip
func (db *DB) RecordArrivals(ctx context.Context, arrivals []Arrival) error {
	if len(arrivals) == 0 {
		return nil
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO arrivals (vehicle_key, trip_id, route_id, waypoint_index,
			waypoint_name, scheduled_minutes, arrived_at, delay_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range arrivals {
		if _, err := stmt.ExecContext(ctx, a.VehicleKey, a.TripID, a.RouteID, a.WaypointIndex,
			a.WaypointName, nullInt(a.ScheduledMinutes), formatTime(a.ArrivedAt), nullInt(a.DelayMinutes)); err != nil {
			return fmt.Errorf("insert arrival %s/%d: %w", a.VehicleKey, a.WaypointIndex, err)
		}
	}

	return tx.Commit()
}

// Arrivals returns the most recent arrivals on a route, newest first
func (db *DB) Arrivals(ctx context.Context, routeID string, limit int) ([]Arrival, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT vehicle_key, trip_id, route_id, waypoint_index, waypoint_name,
			scheduled_minutes, arrived_at, delay_minutes
		FROM arrivals
		WHERE route_id = ?
		ORDER BY arrived_at DESC, waypoint_index DESC
		LIMIT ?
	`, routeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query arrivals: %w", err)
	}
	defer rows.Close()

	result := []Arrival{}
	for rows.Next() {
		var a Arrival
		var sched, delay sql.NullInt64
		var arrivedAt string
		if err := rows.Scan(&a.VehicleKey, &a.TripID, &a.RouteID, &a.WaypointIndex, &a.WaypointName,
			&sched, &arrivedAt, &delay); err != nil {
			return nil, fmt.Errorf("scan arrival: %w", err)
		}
		a.ScheduledMinutes = intPtr(sched)
		a.DelayMinutes = intPtr(delay)
		a.ArrivedAt = parseTime(arrivedAt)
		result = append(result, a)
	}
	return result, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
