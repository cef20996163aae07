package trainlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dj-oyu/wefit/rep-counter/internal/session"
)

// DefaultHistoryLimit caps List when no limit is given.
const DefaultHistoryLimit = 500

// Store keeps snapshot rows in SQLite.
type Store struct {
	*sql.DB
}

// OpenStore opens (or creates) the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			reps INTEGER NOT NULL,
			level TEXT NOT NULL,
			threshold DOUBLE NOT NULL,
			angle DOUBLE NOT NULL,
			recorded_at_unix_nanos BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots (session_id, recorded_at_unix_nanos);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db}, nil
}

// Append inserts one snapshot row.
func (s *Store) Append(ctx context.Context, rec session.Record) error {
	_, err := s.ExecContext(ctx,
		"INSERT INTO snapshots (session_id, reps, level, threshold, angle, recorded_at_unix_nanos) VALUES (?, ?, ?, ?, ?, ?)",
		rec.SessionID, rec.Count, rec.Level, rec.Threshold, rec.DerivedAngle, rec.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// List returns the newest rows first. An empty sessionID lists all sessions.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]session.Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := "SELECT session_id, reps, level, threshold, angle, recorded_at_unix_nanos FROM snapshots"
	args := []any{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY recorded_at_unix_nanos DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var records []session.Record
	for rows.Next() {
		var rec session.Record
		var nanos int64
		if err := rows.Scan(&rec.SessionID, &rec.Count, &rec.Level, &rec.Threshold, &rec.DerivedAngle, &nanos); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, nanos)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
