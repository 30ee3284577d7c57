// Package health turns engine statistics and the execution log into a
// verdict an operator can act on. It is a pure reader: nothing here
// mutates events, locks, or the log.
package health

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/cronloop/internal/history"
	"github.com/flemzord/cronloop/internal/schedule"
)

// Status is the overall verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWarning   Status = "warning"
	StatusUnhealthy Status = "unhealthy"
)

const (
	// failureRateThreshold marks an event unhealthy once more than
	// half of its runs failed.
	failureRateThreshold = 0.5
	// minRunsForVerdict keeps a single flaky run from condemning a
	// fresh event.
	minRunsForVerdict = 10
	// staleAfter is how long an event may miss due fire times before
	// it is flagged.
	staleAfter = time.Hour
)

// CrontabChecker reports whether the OS cron integration is in place.
// *crontab.Manager satisfies it.
type CrontabChecker interface {
	Installed() (bool, error)
}

// EventStats is the per-event slice of a report.
type EventStats struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Expression  string    `json:"expression"`
	LastRun     time.Time `json:"last_run,omitzero"`
	NextRun     time.Time `json:"next_run,omitzero"`
	Runs        int64     `json:"runs"`
	Failures    int64     `json:"failures"`
	SuccessRate float64   `json:"success_rate"`
}

// Check is the health verdict with its supporting detail.
type Check struct {
	Status          Status   `json:"status"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Events          int      `json:"events"`
	TotalRuns       int64    `json:"total_runs"`
	TotalFailures   int64    `json:"total_failures"`
}

// Report is the full operator dump: the verdict plus per-event stats.
type Report struct {
	Check       Check        `json:"check"`
	Events      []EventStats `json:"events"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Monitor inspects an engine and its execution log.
type Monitor struct {
	engine  *schedule.Engine
	store   history.Store
	crontab CrontabChecker
	logger  *slog.Logger
}

// NewMonitor creates a Monitor. crontab may be nil when the process has
// no OS cron integration (embedded use); its absence then is not a
// warning.
func NewMonitor(engine *schedule.Engine, store history.Store, crontab CrontabChecker, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{engine: engine, store: store, crontab: crontab, logger: logger}
}

type runTally struct {
	runs     int64
	failures int64
}

// Check computes the verdict for now.
//
// Unhealthy: any event with at least 10 recorded runs failed more than
// half of them. Warning: the crontab entry is missing, or an event has
// missed due fire times for over an hour. Healthy otherwise.
func (m *Monitor) Check(now time.Time) Check {
	tallies := m.tallies()
	out := Check{Status: StatusHealthy}

	for _, ev := range m.engine.Events() {
		t := tallies[ev.ID()]
		out.Events++
		out.TotalRuns += t.runs
		out.TotalFailures += t.failures

		if t.runs >= minRunsForVerdict {
			rate := float64(t.failures) / float64(t.runs)
			if rate > failureRateThreshold {
				out.Status = StatusUnhealthy
				out.Issues = append(out.Issues,
					fmt.Sprintf("event %q failed %d of its last %d runs", ev.ID(), t.failures, t.runs))
				out.Recommendations = append(out.Recommendations,
					fmt.Sprintf("inspect the output of %q, its command is failing more often than it succeeds", ev.ID()))
			}
		}

		if stale, missed := m.staleSince(ev, now); stale {
			if out.Status == StatusHealthy {
				out.Status = StatusWarning
			}
			out.Issues = append(out.Issues,
				fmt.Sprintf("event %q has not run since %s despite being due", ev.ID(), missed.Format(time.RFC3339)))
			out.Recommendations = append(out.Recommendations,
				"check that a worker or crontab entry is active on this host")
		}
	}

	if m.crontab != nil {
		installed, err := m.crontab.Installed()
		if err != nil {
			m.logger.Warn("crontab status unavailable", "error", err)
		}
		if err == nil && !installed {
			if out.Status == StatusHealthy {
				out.Status = StatusWarning
			}
			out.Issues = append(out.Issues, "no crontab entry is installed")
			out.Recommendations = append(out.Recommendations,
				"run `cronloop install` so due events fire every minute")
		}
	}

	return out
}

// Report combines the verdict with a per-event dump.
func (m *Monitor) Report(now time.Time) Report {
	tallies := m.tallies()
	rep := Report{Check: m.Check(now), GeneratedAt: now}

	for _, ev := range m.engine.Events() {
		t := tallies[ev.ID()]
		stats := EventStats{
			ID:          ev.ID(),
			Description: ev.Description(),
			Expression:  ev.Expression(),
			LastRun:     ev.LastRun(),
			NextRun:     ev.NextRun(now),
			Runs:        t.runs,
			Failures:    t.failures,
			SuccessRate: 1,
		}
		if t.runs > 0 {
			stats.SuccessRate = float64(t.runs-t.failures) / float64(t.runs)
		}
		rep.Events = append(rep.Events, stats)
	}
	return rep
}

// Cleanup trims execution log entries older than retention.
func (m *Monitor) Cleanup(retention time.Duration) error {
	return m.store.Cleanup(retention)
}

// tallies merges the engine's in-memory counters with the persisted
// execution log, preferring whichever source has seen more runs. After
// a restart the counters reset but the log survives; within a long
// worker run the counters may be ahead of a lagging log.
func (m *Monitor) tallies() map[string]runTally {
	tallies := make(map[string]runTally)

	entries, err := m.store.ReadAll()
	if err != nil {
		m.logger.Warn("reading execution log failed, using in-memory counters only", "error", err)
	}
	for _, e := range entries {
		t := tallies[e.EventID]
		t.runs++
		if !e.Success {
			t.failures++
		}
		tallies[e.EventID] = t
	}

	for _, ev := range m.engine.Events() {
		s, f := ev.Counts()
		if s+f > tallies[ev.ID()].runs {
			tallies[ev.ID()] = runTally{runs: s + f, failures: f}
		}
	}
	return tallies
}

// staleSince reports whether ev has a fire time more than staleAfter in
// the past that was never followed by a run. Events that have never run
// are not judged: there is no baseline to miss from.
func (m *Monitor) staleSince(ev *schedule.Event, now time.Time) (bool, time.Time) {
	last := ev.LastRun()
	if last.IsZero() {
		return false, time.Time{}
	}
	missed := ev.NextRun(last)
	if missed.IsZero() {
		return false, time.Time{}
	}
	if now.Sub(missed) > staleAfter {
		return true, missed
	}
	return false, time.Time{}
}
