// Package lockfile implements filesystem advisory locks keyed by string.
// A lock is a file containing the owner's decimal pid; a lock whose pid
// no longer maps to a live process is stale and reclaimed on contact.
//
// The locks are advisory and fail open: an I/O error while reading or
// creating a lock file is treated as "not locked" so a corrupted file can
// never permanently block an event. Callers needing hard exclusion must
// look elsewhere.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Manager creates and releases pid-file locks under a single directory.
type Manager struct {
	dir    string
	logger *slog.Logger
}

// NewManager creates a Manager rooted at dir. An empty dir defaults to
// a "cronloop" directory under the OS temp dir.
func NewManager(dir string, logger *slog.Logger) *Manager {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "cronloop")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dir: dir, logger: logger}
}

// Dir returns the lock directory.
func (m *Manager) Dir() string { return m.dir }

// Acquire attempts to take the lock for key on behalf of this process.
// It returns false only when a live process currently owns the lock.
// Stale locks (dead owner, unreadable content) are reclaimed. Per the
// fail-open policy an I/O error still reports acquired, with the error
// returned for logging.
func (m *Manager) Acquire(key string) (bool, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return true, fmt.Errorf("lockfile: create dir %s: %w", m.dir, err)
	}

	path := m.path(key)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				return true, fmt.Errorf("lockfile: write %s: %w", path, errors.Join(werr, cerr))
			}
			return true, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return true, fmt.Errorf("lockfile: create %s: %w", path, err)
		}

		pid, ok := m.readOwner(path)
		if ok && processAlive(pid) {
			return false, nil
		}
		// Stale or unreadable: reclaim and retry the exclusive create.
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return true, fmt.Errorf("lockfile: reclaim %s: %w", path, rmErr)
		}
		m.logger.Debug("lockfile: reclaimed stale lock", "key", key, "pid", pid)
	}
	// Lost the reclaim race twice; someone live holds it now.
	return false, nil
}

// Release removes the lock for key. A missing file is not an error.
func (m *Manager) Release(key string) error {
	err := os.Remove(m.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("lockfile: release %s: %w", key, err)
	}
	return nil
}

// IsLocked reports whether a live process owns the lock for key. Stale
// files are removed as a side effect, so crashed owners self-heal on the
// next check.
func (m *Manager) IsLocked(key string) bool {
	path := m.path(key)
	pid, ok := m.readOwner(path)
	if !ok {
		return false
	}
	if processAlive(pid) {
		return true
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("lockfile: removing stale lock failed", "key", key, "error", err)
	}
	return false
}

// Clear removes every lock file in the directory.
func (m *Manager) Clear() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("lockfile: read dir %s: %w", m.dir, err)
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// readOwner reads the owning pid from a lock file. ok is false when the
// file is missing, unreadable, or does not contain a pid.
func (m *Manager) readOwner(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// path maps a key to its lock file, stripping anything that could
// escape the lock directory.
func (m *Manager) path(key string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, key)
	return filepath.Join(m.dir, clean+".lock")
}

// processAlive probes pid with signal zero (POSIX). EPERM still means
// the process exists, just owned by someone else.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
