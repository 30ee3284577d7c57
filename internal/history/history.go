// Package history records job execution outcomes as an append-only log.
// The engine appends one Entry per run; the health monitor reads the log
// back. The scheduler's due/run logic never consults it.
package history

import (
	"time"
)

// Entry is one recorded run. On the wire it is a single NDJSON object:
// {"timestamp":...,"event_id":...,"success":...,"duration":...,"output":...}
// with duration in nanoseconds.
type Entry struct {
	Timestamp time.Time     `json:"timestamp"`
	EventID   string        `json:"event_id"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Output    string        `json:"output,omitempty"`
}

// Store is the persistence contract for execution history.
type Store interface {
	// Append records one run. Append errors degrade health reporting
	// but must never affect scheduling, so callers log and move on.
	Append(e Entry) error

	// ReadAll returns every parseable entry, oldest first.
	ReadAll() ([]Entry, error)

	// Cleanup drops entries older than retention. Lines that cannot be
	// parsed are preserved, not discarded.
	Cleanup(retention time.Duration) error

	// Close releases any underlying resources.
	Close() error
}
