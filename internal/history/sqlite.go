// Package history keeps a durable log of waypoint arrivals and hourly
// per-route delay statistics in SQLite.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps a SQLite connection with write serialization
type DB struct {
	conn    *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// Open connects to the database at path and ensures the schema exists
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// one writer at a time
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{
		conn:   conn,
		logger: logger.With("component", "history"),
	}
	if err := db.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	db.logger.Info("history database ready", "path", path)
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) ensureSchema(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Cleanup deletes rows older than retention
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()

	queries := []struct {
		name  string
		query string
		arg   string
	}{
		{"arrivals", "DELETE FROM arrivals WHERE arrived_at < ?", formatTime(cutoff)},
		{"delay_stats_hourly", "DELETE FROM delay_stats_hourly WHERE hour_bucket < ?", formatTime(cutoff.Truncate(time.Hour))},
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var total int64
	for _, q := range queries {
		res, err := db.conn.ExecContext(ctx, q.query, q.arg)
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", q.name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if total > 0 {
		db.logger.Info("history cleanup", "deleted", total, "retention", retention)
	}
	return total, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
