package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps the execution log as newline-delimited JSON, one
// object per line. This is the format external tools consume, so it is
// the default backend.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore writing to path. Parent directories
// are created on first append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Append implements Store.
func (s *FileStore) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("history: create dir %s: %w", dir, err)
		}
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: encode entry: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("history: append to %s: %w", s.path, err)
	}
	return nil
}

// ReadAll implements Store. Unparseable lines are skipped, not fatal.
func (s *FileStore) ReadAll() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: open %s: %w", s.path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("history: read %s: %w", s.path, err)
	}
	return entries, nil
}

// Cleanup implements Store. The log is rewritten through a temp file and
// renamed into place so readers never observe a partial file.
func (s *FileStore) Cleanup(retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("history: open %s: %w", s.path, err)
	}

	cutoff := time.Now().Add(-retention)
	var kept [][]byte

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			kept = append(kept, line) // preserve what we cannot parse
			continue
		}
		if e.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, line)
	}
	scanErr := scanner.Err()
	_ = f.Close()
	if scanErr != nil {
		return fmt.Errorf("history: scan %s: %w", s.path, scanErr)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*")
	if err != nil {
		return fmt.Errorf("history: temp file: %w", err)
	}
	for _, line := range kept {
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("history: write temp: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("history: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("history: replace %s: %w", s.path, err)
	}
	return nil
}

// Close implements Store. The file is opened per operation, so there is
// nothing to release.
func (s *FileStore) Close() error { return nil }
