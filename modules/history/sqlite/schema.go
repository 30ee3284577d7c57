package sqlite

import (
	"database/sql"
	"fmt"
)

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		timestamp   TEXT    NOT NULL,
		event_id    TEXT    NOT NULL,
		success     INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		output      TEXT    NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_timestamp ON runs(timestamp)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_event ON runs(event_id, timestamp)`,
}

func migrate(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: migrate schema: %w", err)
		}
	}
	return nil
}
