package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "history.ndjson"))
}

func TestFileStore_AppendReadAll(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	entries := []Entry{
		{Timestamp: now.Add(-2 * time.Minute), EventID: "a", Success: true, Duration: 1200 * time.Millisecond},
		{Timestamp: now.Add(-time.Minute), EventID: "b", Success: false, Duration: 50 * time.Millisecond, Output: "boom"},
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
		t.Fatalf("order not preserved: %v", got)
	}
	if !got[1].Timestamp.Equal(entries[1].Timestamp) {
		t.Errorf("timestamp round-trip: got %v want %v", got[1].Timestamp, entries[1].Timestamp)
	}
	if got[1].Output != "boom" {
		t.Errorf("output round-trip: %q", got[1].Output)
	}
}

func TestFileStore_ReadAll_MissingFile(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	got, err := s.ReadAll()
	if err != nil || got != nil {
		t.Fatalf("ReadAll on missing file = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestFileStore_ReadAll_SkipsGarbageLines(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_ = s.Append(Entry{Timestamp: time.Now(), EventID: "ok", Success: true})

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("this is not json\n")
	_ = f.Close()

	got, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 1 || got[0].EventID != "ok" {
		t.Fatalf("ReadAll = %v, want the single valid entry", got)
	}
}

func TestFileStore_Cleanup(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_ = s.Append(Entry{Timestamp: time.Now().Add(-48 * time.Hour), EventID: "old"})
	_ = s.Append(Entry{Timestamp: time.Now(), EventID: "fresh"})

	// A foreign line must survive cleanup untouched.
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("corrupted but precious\n")
	_ = f.Close()

	if err := s.Cleanup(24 * time.Hour); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	content := string(raw)
	if strings.Contains(content, `"old"`) {
		t.Error("expired entry should be dropped")
	}
	if !strings.Contains(content, `"fresh"`) {
		t.Error("fresh entry should be kept")
	}
	if !strings.Contains(content, "corrupted but precious") {
		t.Error("unparseable line should be preserved")
	}
}

func TestFileStore_Cleanup_MissingFile(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if err := s.Cleanup(time.Hour); err != nil {
		t.Fatalf("Cleanup on missing file: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	_ = s.Append(Entry{Timestamp: time.Now().Add(-2 * time.Hour), EventID: "old"})
	_ = s.Append(Entry{Timestamp: time.Now(), EventID: "new"})

	if err := s.Cleanup(time.Hour); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	got, _ := s.ReadAll()
	if len(got) != 1 || got[0].EventID != "new" {
		t.Fatalf("after cleanup: %v", got)
	}
}
