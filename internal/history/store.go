// Package history stores level readings in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/oszuidwest/zwfm-noisemonitor/internal/types"
)

// MaxLimit caps the number of readings returned by Recent.
const MaxLimit = 1000

// Store is a SQLite-backed readings history. It is safe for concurrent use.
type Store struct {
	db        *sql.DB
	retention time.Duration
	clock     func() time.Time
}

// Open creates or opens the database at path and prunes expired readings.
func Open(ctx context.Context, path string, retentionDays int) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		clock:     time.Now,
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, err
	}

	if err := s.Prune(ctx); err != nil {
		slog.Warn("history prune on start failed", "error", err)
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_ms INTEGER NOT NULL,
    level_db REAL NOT NULL,
    threshold_db REAL NOT NULL,
    exceeded INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_readings_created ON readings(created_ms);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores one reading taken now.
func (s *Store) Record(ctx context.Context, level, threshold float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings(created_ms, level_db, threshold_db, exceeded) VALUES(?, ?, ?, ?)`,
		s.clock().UnixMilli(), level, threshold, level >= threshold)
	return err
}

// Recent returns up to limit readings, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	limit = min(limit, MaxLimit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT created_ms, level_db, threshold_db, exceeded
		 FROM readings ORDER BY created_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // Read-only query

	readings := make([]types.Reading, 0, limit)
	for rows.Next() {
		var (
			createdMs int64
			r         types.Reading
		)
		if err := rows.Scan(&createdMs, &r.LevelDB, &r.ThresholdDB, &r.Exceeded); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(createdMs).UTC().Format(time.RFC3339)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// Prune deletes readings older than the retention period.
func (s *Store) Prune(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := s.clock().Add(-s.retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE created_ms < ?`, cutoff)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.Info("pruned readings history", "deleted", n)
	}
	return nil
}

// RunPruner prunes expired readings every interval until ctx is cancelled.
func (s *Store) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Prune(ctx); err != nil {
				slog.Warn("history prune failed", "error", err)
			}
		}
	}
}
