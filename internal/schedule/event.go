// Package schedule is the scheduling engine: it owns the collection of
// scheduled events, decides which are due for a given instant, executes
// them with overlap protection and lifecycle hooks, and tracks
// per-event statistics.
package schedule

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/flemzord/cronloop/internal/cronexpr"
	"github.com/flemzord/cronloop/internal/lockfile"
	"github.com/flemzord/cronloop/internal/runner"
)

// timeNow is swapped out by tests that need a fixed clock for
// time-of-day window filters.
var timeNow = time.Now

// Predicate gates an event's due decision. All filters must return
// true and no reject may return true for the event to run.
type Predicate func() bool

// Hook is a side-effecting callable run before or after an event.
// A hook that fails (or panics) is logged and never aborts the run.
type Hook func() error

// defaultLockExpiry mirrors the conventional 24 h overlap-lock expiry.
const defaultLockExpiry = 24 * time.Hour

// Event binds a Runner to a cron schedule plus behavioral modifiers.
// Events are created through Engine.Register and configured through the
// returned Builder; the engine owns them for the process lifetime.
type Event struct {
	id      string
	run     runner.Runner
	expr    string
	sched   *cronexpr.Schedule
	cronErr error // sticky parse error, surfaced by Builder.Err and at run time

	description string
	timezone    string

	withoutOverlapping bool
	lockExpiry         time.Duration
	mutexKey           string
	onOneServer        bool
	runInBackground    bool

	environments map[string]struct{}
	filters      []Predicate
	rejects      []Predicate
	beforeHooks  []Hook
	afterHooks   []Hook

	outputPath   string
	appendOutput bool

	notifyOnFailure []string
	retryAfter      time.Duration
	maxAttempts     int

	locks *lockfile.Manager

	// Run state. Guarded by its own mutex because background runs
	// complete asynchronously, after the engine's dispatch loop has
	// moved on.
	mu           sync.Mutex
	lastRunAt    time.Time
	successCount int64
	failureCount int64
}

// ID returns the event's stable identity, unique within its engine.
func (ev *Event) ID() string { return ev.id }

// Description returns the human-readable label, or the runner name
// when no description was set.
func (ev *Event) Description() string {
	if ev.description != "" {
		return ev.description
	}
	return ev.run.Name()
}

// Expression returns the raw cron expression.
func (ev *Event) Expression() string { return ev.expr }

// NextRun returns the next fire time strictly after from, or the zero
// time when the expression is unparseable or unsatisfiable.
func (ev *Event) NextRun(from time.Time) time.Time {
	if ev.sched == nil {
		return time.Time{}
	}
	return ev.sched.Next(from)
}

// clock returns t in the event's pinned zone, unchanged when no zone
// is set or the name does not load.
func (ev *Event) clock(t time.Time) time.Time {
	if ev.timezone == "" {
		return t
	}
	loc, err := time.LoadLocation(ev.timezone)
	if err != nil {
		return t
	}
	return t.In(loc)
}

// LastRun returns when the event last ran (zero if never).
func (ev *Event) LastRun() time.Time {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.lastRunAt
}

// Counts returns the lifetime success and failure counters.
func (ev *Event) Counts() (successes, failures int64) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.successCount, ev.failureCount
}

// IsDue reports whether the event should run at now: the cron window
// matches, every filter passes, no reject passes, and, when overlap
// protection is on, no live process currently holds the mutex.
func (ev *Event) IsDue(now time.Time) bool {
	if !ev.filtersPass(now) {
		return false
	}
	if ev.withoutOverlapping && ev.locks != nil && ev.locks.IsLocked(ev.mutexKey) {
		return false
	}
	return true
}

// filtersPass is the due check without the mutex: cron window, filters,
// rejects. Engine.DueEvents uses this so the pure query never touches
// lock files.
func (ev *Event) filtersPass(now time.Time) bool {
	if ev.sched == nil || !ev.sched.IsDue(now) {
		return false
	}
	for _, f := range ev.filters {
		if !f() {
			return false
		}
	}
	for _, r := range ev.rejects {
		if r() {
			return false
		}
	}
	return true
}

// inEnvironment reports whether the event may run in the named
// environment. An event with no restriction runs everywhere.
func (ev *Event) inEnvironment(env string) bool {
	if len(ev.environments) == 0 {
		return true
	}
	_, ok := ev.environments[env]
	return ok
}

func (ev *Event) recordSuccess(at time.Time) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.successCount++
	ev.lastRunAt = at
}

func (ev *Event) recordFailure(at time.Time) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.failureCount++
	ev.lastRunAt = at
}

// mutexKeyFor derives the overlap-mutex key from the runner identity,
// not the event ID, so two separately registered events for the same
// command still mutually exclude.
func mutexKeyFor(name string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return fmt.Sprintf("event-%016x", h.Sum64())
}
