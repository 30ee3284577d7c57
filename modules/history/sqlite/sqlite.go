// Package sqlite provides a SQLite-backed execution history store, an
// alternative to the default NDJSON file for installations that want to
// query run history with SQL.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flemzord/cronloop/internal/history"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000 // milliseconds

// Store implements history.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at path and returns a Store
// backed by it. The database uses WAL mode, a 5 s busy timeout, and a
// single connection (SQLite serialises writes). The schema is migrated
// automatically.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Append implements history.Store.
func (s *Store) Append(e history.Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (timestamp, event_id, success, duration_ns, output)
		VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.EventID,
		boolToInt(e.Success),
		int64(e.Duration),
		e.Output,
	)
	if err != nil {
		return fmt.Errorf("sqlite: append run: %w", err)
	}
	return nil
}

// ReadAll implements history.Store, oldest first.
func (s *Store) ReadAll() ([]history.Entry, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, event_id, success, duration_ns, output
		FROM runs ORDER BY timestamp ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []history.Entry
	for rows.Next() {
		var (
			ts       string
			e        history.Entry
			success  int
			duration int64
		)
		if err := rows.Scan(&ts, &e.EventID, &success, &duration, &e.Output); err != nil {
			return entries, fmt.Errorf("sqlite: scan run: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			continue // malformed row; skip rather than fail the read
		}
		e.Timestamp = parsed
		e.Success = success != 0
		e.Duration = time.Duration(duration)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return entries, fmt.Errorf("sqlite: iterate runs: %w", err)
	}
	return entries, nil
}

// Cleanup implements history.Store.
func (s *Store) Cleanup(retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`DELETE FROM runs WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("sqlite: cleanup runs: %w", err)
	}
	return nil
}

// Close implements history.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
