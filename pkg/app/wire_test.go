package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/flemzord/cronloop/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Locks.Dir = t.TempDir()
	cfg.History.Backend = "memory"
	return cfg
}

func TestNewRegistersConfiguredJobs(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Environment = "production"
	cfg.Jobs = []config.JobConfig{
		{
			Name:               "backup",
			Command:            "true",
			Cron:               "0 3 * * *",
			Description:        "nightly backup",
			WithoutOverlapping: true,
			MaxAttempts:        1,
		},
		{Name: "heartbeat", Command: "true", Cron: "* * * * *", MaxAttempts: 1},
	}

	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	events := a.Engine.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].ID() != "backup" || events[0].Expression() != "0 3 * * *" {
		t.Fatalf("events[0] = %s %s", events[0].ID(), events[0].Expression())
	}
	if events[0].Description() != "nightly backup" {
		t.Fatalf("description = %q", events[0].Description())
	}
	if a.Engine.Environment() != "production" {
		t.Fatalf("environment = %q", a.Engine.Environment())
	}
	if _, ok := a.Runners.Get("backup"); !ok {
		t.Fatal("backup runner not in the registry")
	}
	if names := a.Runners.Names(); len(names) != 2 {
		t.Fatalf("registry names = %v, want 2", names)
	}
}

func TestNewRejectsBadJobCron(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Jobs = []config.JobConfig{
		{Name: "broken", Command: "true", Cron: "99 * * * *", MaxAttempts: 1},
	}

	if _, err := New(cfg, discardLogger()); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestConfiguredJobRunsThroughEngine(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "job.out")
	cfg := testConfig(t)
	cfg.Jobs = []config.JobConfig{
		{
			Name:        "echoer",
			Command:     "echo scheduled-output",
			Cron:        "* * * * *",
			OutputFile:  out,
			MaxAttempts: 1,
		},
	}

	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	summary := a.Engine.RunDueEvents(context.Background(), time.Now())
	if summary.Ran != 1 || !summary.AllSucceeded() {
		t.Fatalf("summary = %+v", summary)
	}

	entries, err := a.Store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 || entries[0].EventID != "echoer" {
		t.Fatalf("history = %+v", entries)
	}
}

func TestOpenStoreBackends(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cases := []config.HistoryConfig{
		{Backend: "file", Path: filepath.Join(dir, "h.ndjson")},
		{Backend: "sqlite", Path: filepath.Join(dir, "h.db")},
		{Backend: "memory"},
	}
	for _, hc := range cases {
		store, err := openStore(hc)
		if err != nil {
			t.Fatalf("%s: openStore: %v", hc.Backend, err)
		}
		if err := store.Close(); err != nil {
			t.Errorf("%s: Close: %v", hc.Backend, err)
		}
	}
}

func TestLoadConfigDefaultsWithoutPath(t *testing.T) {
	t.Parallel()

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Worker.Interval != time.Minute {
		t.Fatalf("interval = %v", cfg.Worker.Interval)
	}
}
