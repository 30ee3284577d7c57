package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/flemzord/cronloop/internal/history"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AppendReadAll(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	entries := []history.Entry{
		{Timestamp: now.Add(-time.Hour), EventID: "a", Success: true, Duration: time.Second},
		{Timestamp: now, EventID: "b", Success: false, Duration: 30 * time.Millisecond, Output: "oops"},
	}
	for _, e := range entries {
		if err := s.Append(e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadAll returned %d entries, want 2", len(got))
	}
	if got[0].EventID != "a" || got[1].EventID != "b" {
		t.Fatalf("not ordered oldest first: %v", got)
	}
	if !got[1].Timestamp.Equal(now) {
		t.Errorf("timestamp round-trip: got %v want %v", got[1].Timestamp, now)
	}
	if got[1].Success || !got[0].Success {
		t.Error("success flags did not round-trip")
	}
	if got[1].Duration != 30*time.Millisecond {
		t.Errorf("duration round-trip: %v", got[1].Duration)
	}
	if got[1].Output != "oops" {
		t.Errorf("output round-trip: %q", got[1].Output)
	}
}

func TestStore_Cleanup(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	_ = s.Append(history.Entry{Timestamp: time.Now().Add(-48 * time.Hour), EventID: "old"})
	_ = s.Append(history.Entry{Timestamp: time.Now(), EventID: "fresh"})

	if err := s.Cleanup(24 * time.Hour); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	got, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "fresh" {
		t.Fatalf("after cleanup: %v", got)
	}
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	_ = s.Append(history.Entry{Timestamp: time.Now(), EventID: "persisted"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer func() { _ = s2.Close() }()

	got, err := s2.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "persisted" {
		t.Fatalf("data did not survive reopen: %v", got)
	}
}
