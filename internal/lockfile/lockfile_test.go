package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), slog.Default())
}

func TestAcquireRelease(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	ok, err := m.Acquire("job-a")
	if err != nil || !ok {
		t.Fatalf("Acquire = (%v, %v), want (true, nil)", ok, err)
	}
	if !m.IsLocked("job-a") {
		t.Fatal("lock should be held by this live process")
	}
	if err := m.Release("job-a"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if m.IsLocked("job-a") {
		t.Fatal("lock should be gone after Release")
	}
}

func TestAcquire_DeniedWhileLiveOwnerHolds(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	if ok, _ := m.Acquire("job-b"); !ok {
		t.Fatal("first Acquire should succeed")
	}
	// Same key, same live pid: the owner is alive, so a second acquire
	// (simulating another run of the same event) is denied.
	if ok, err := m.Acquire("job-b"); ok {
		t.Fatalf("second Acquire = (true, %v), want denial", err)
	}
}

func TestAcquire_ReclaimsStaleLock(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	// Plant a lock owned by a pid that cannot exist.
	stale := filepath.Join(m.Dir(), "job-c.lock")
	if err := os.WriteFile(stale, []byte("999999999"), 0o644); err != nil {
		t.Fatalf("planting stale lock: %v", err)
	}

	ok, err := m.Acquire("job-c")
	if err != nil || !ok {
		t.Fatalf("Acquire over stale lock = (%v, %v), want (true, nil)", ok, err)
	}

	raw, err := os.ReadFile(stale)
	if err != nil {
		t.Fatalf("reading reclaimed lock: %v", err)
	}
	if want := fmt.Sprintf("%d", os.Getpid()); string(raw) != want {
		t.Fatalf("reclaimed lock pid = %q, want %q", raw, want)
	}
}

func TestIsLocked_RemovesStaleFile(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	stale := filepath.Join(m.Dir(), "job-d.lock")
	if err := os.WriteFile(stale, []byte("999999999"), 0o644); err != nil {
		t.Fatalf("planting stale lock: %v", err)
	}

	if m.IsLocked("job-d") {
		t.Fatal("dead owner should not count as locked")
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale file should be removed by the check")
	}
}

func TestIsLocked_GarbageContentFailsOpen(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	bad := filepath.Join(m.Dir(), "job-e.lock")
	if err := os.WriteFile(bad, []byte("not a pid"), 0o644); err != nil {
		t.Fatalf("planting garbage lock: %v", err)
	}
	if m.IsLocked("job-e") {
		t.Fatal("unreadable lock content must fail open")
	}
}

func TestRelease_MissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	if err := m.Release("never-acquired"); err != nil {
		t.Fatalf("Release on missing lock: %v", err)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	for _, key := range []string{"one", "two"} {
		if ok, _ := m.Acquire(key); !ok {
			t.Fatalf("Acquire(%q) failed", key)
		}
	}
	// Unrelated files survive.
	keep := filepath.Join(m.Dir(), "notes.txt")
	if err := os.WriteFile(keep, []byte("keep"), 0o644); err != nil {
		t.Fatalf("writing unrelated file: %v", err)
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	entries, err := os.ReadDir(m.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "notes.txt" {
		t.Fatalf("unexpected leftovers: %v", entries)
	}
}

func TestPathSanitizesKey(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	if ok, _ := m.Acquire("../escape/attempt"); !ok {
		t.Fatal("Acquire with hostile key failed")
	}
	entries, err := os.ReadDir(m.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("lock must stay inside the lock dir, got %v", entries)
	}
}
