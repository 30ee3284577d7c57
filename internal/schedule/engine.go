package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/cronloop/internal/history"
	"github.com/flemzord/cronloop/internal/lockfile"
	"github.com/flemzord/cronloop/internal/notify"
	"github.com/flemzord/cronloop/internal/runner"
)

// maxRetryWait bounds the in-cycle retry sleep so a generous RetryAfter
// cannot stall the dispatch loop for minutes.
const maxRetryWait = 30 * time.Second

// Config assembles an Engine. Every field has a usable default.
type Config struct {
	Locks       *lockfile.Manager
	History     history.Store
	Notifier    notify.Notifier
	Logger      *slog.Logger
	Metrics     *Metrics
	Tracer      trace.Tracer
	Environment string
}

// Engine owns the event collection. Registration happens at process
// start; after that the engine is the only writer. A single coarse
// mutex guards the collection; this is a low-frequency system, not a
// hot path.
type Engine struct {
	mu     sync.Mutex
	events []*Event
	ids    map[string]struct{}

	locks    *lockfile.Manager
	store    history.Store
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	env      string

	// publish, when set, receives every history entry as it is
	// recorded (the status API's live event stream hangs off this).
	publishMu sync.Mutex
	publish   func(history.Entry)
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Locks == nil {
		cfg.Locks = lockfile.NewManager("", cfg.Logger)
	}
	if cfg.History == nil {
		cfg.History = history.NewMemoryStore()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogNotifier(cfg.Logger)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/flemzord/cronloop/internal/schedule")
	}
	return &Engine{
		ids:      make(map[string]struct{}),
		locks:    cfg.Locks,
		store:    cfg.History,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		env:      cfg.Environment,
	}
}

// Environment returns the environment name this engine runs as.
func (e *Engine) Environment() string { return e.env }

// Locks returns the engine's lock manager.
func (e *Engine) Locks() *lockfile.Manager { return e.locks }

// SetPublisher installs a callback invoked with every recorded history
// entry. Pass nil to remove it.
func (e *Engine) SetPublisher(fn func(history.Entry)) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()
	e.publish = fn
}

// Register adds a new event bound to r, defaulting to every minute,
// and returns a Builder to configure it.
func (e *Engine) Register(r runner.Runner) *Builder {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev := &Event{
		id:    e.assignID(r.Name()),
		run:   r,
		locks: e.locks,
	}
	e.events = append(e.events, ev)

	b := &Builder{ev: ev}
	return b.EveryMinute()
}

// RegisterFunc is shorthand for Register(runner.NewFunc(name, fn)).
func (e *Engine) RegisterFunc(name string, fn func(ctx context.Context) error) *Builder {
	return e.Register(runner.NewFunc(name, fn))
}

// Events returns a snapshot of the registered events in registration
// order.
func (e *Engine) Events() []*Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Event, len(e.events))
	copy(out, e.events)
	return out
}

// EventStats is a point-in-time snapshot of a registered event.
type EventStats struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Expression  string    `json:"expression"`
	NextRun     time.Time `json:"next_run,omitzero"`
	LastRun     time.Time `json:"last_run,omitzero"`
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
}

// Stats aggregates run state across all registered events.
type Stats struct {
	Events        []EventStats `json:"events"`
	TotalRuns     int64        `json:"total_runs"`
	TotalFailures int64        `json:"total_failures"`
}

// Stats snapshots every registered event's run state, in registration
// order.
func (e *Engine) Stats(now time.Time) Stats {
	st := Stats{Events: []EventStats{}}
	for _, ev := range e.Events() {
		successes, failures := ev.Counts()
		st.Events = append(st.Events, EventStats{
			ID:          ev.ID(),
			Description: ev.Description(),
			Expression:  ev.Expression(),
			NextRun:     ev.NextRun(now),
			LastRun:     ev.LastRun(),
			Successes:   successes,
			Failures:    failures,
		})
		st.TotalRuns += successes + failures
		st.TotalFailures += failures
	}
	return st
}

// Clear removes all registered events.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
	e.ids = make(map[string]struct{})
}

// DueEvents returns the events due at now, in registration order. It is
// a pure query: no lock files are consulted and nothing is mutated, so
// an event whose previous run still holds its mutex is still reported
// due (RunDueEvents is what skips it).
func (e *Engine) DueEvents(now time.Time) []*Event {
	var due []*Event
	for _, ev := range e.Events() {
		if ev.cronErr != nil {
			continue
		}
		if !ev.inEnvironment(e.env) {
			continue
		}
		if ev.filtersPass(now) {
			due = append(due, ev)
		}
	}
	return due
}

// Result is the outcome of one event within a cycle.
type Result struct {
	EventID    string        `json:"event_id"`
	Skipped    bool          `json:"skipped,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Background bool          `json:"background,omitempty"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Output     string        `json:"output,omitempty"`
}

// Summary aggregates one RunDueEvents cycle.
type Summary struct {
	Ran     int      `json:"ran"`
	Results []Result `json:"results,omitempty"`
}

// AllSucceeded reports whether no attempted event failed. Skipped and
// background events do not count against it.
func (s Summary) AllSucceeded() bool {
	for _, r := range s.Results {
		if r.Err != nil {
			return false
		}
	}
	return true
}

// RunDueEvents executes every due event for now, sequentially in
// registration order, and is the engine's only mutating entry point.
// The due window spans a whole minute; an event that already ran in
// now's minute is skipped, so sub-minute pollers do not double-fire.
//
// Per-event errors (parse, lock, execution) are isolated: they are
// recorded against that event and never abort the cycle.
func (e *Engine) RunDueEvents(ctx context.Context, now time.Time) Summary {
	var summary Summary
	for _, ev := range e.Events() {
		if ev.cronErr != nil {
			e.logger.Error("event has an invalid schedule, skipping",
				"event", ev.id, "error", ev.cronErr)
			continue
		}
		if !ev.inEnvironment(e.env) {
			continue
		}
		if !ev.filtersPass(now) {
			continue
		}
		if last := ev.LastRun(); !last.IsZero() && last.Truncate(time.Minute).Equal(now.Truncate(time.Minute)) {
			continue
		}
		res := e.runEvent(ctx, ev, now)
		summary.Results = append(summary.Results, res)
		if !res.Skipped {
			summary.Ran++
		}
	}
	return summary
}

// RunEvent runs the named event immediately, bypassing its schedule and
// filters. Overlap locks still apply. It backs "run this now" surfaces
// such as the MCP tool.
func (e *Engine) RunEvent(ctx context.Context, id string) (Result, error) {
	for _, ev := range e.Events() {
		if ev.ID() != id {
			continue
		}
		if ev.cronErr != nil {
			return Result{}, fmt.Errorf("schedule: event %s: %w", id, ev.cronErr)
		}
		return e.runEvent(ctx, ev, time.Now()), nil
	}
	return Result{}, fmt.Errorf("schedule: unknown event %q", id)
}

// runEvent runs a single due event: lock, hooks, command, bookkeeping.
func (e *Engine) runEvent(ctx context.Context, ev *Event, now time.Time) Result {
	if ev.withoutOverlapping {
		acquired, err := e.locks.Acquire(ev.mutexKey)
		if err != nil {
			// Fail open: the lock layer already decided we may run.
			e.logger.Warn("overlap lock degraded", "event", ev.id, "error", err)
		}
		if !acquired {
			e.logger.Info("event already running, skipping", "event", ev.id)
			if e.metrics != nil {
				e.metrics.recordSkip(ev.id)
			}
			return Result{EventID: ev.id, Skipped: true, SkipReason: "already running"}
		}
	}

	if ev.runInBackground {
		go e.executeAndRecord(ctx, ev, now)
		return Result{EventID: ev.id, Background: true}
	}
	return e.executeAndRecord(ctx, ev, now)
}

// executeAndRecord performs the hook/command/record sequence. The
// overlap mutex, if any, is already held and is always released here.
func (e *Engine) executeAndRecord(ctx context.Context, ev *Event, now time.Time) Result {
	defer func() {
		if ev.withoutOverlapping {
			if err := e.locks.Release(ev.mutexKey); err != nil {
				e.logger.Warn("releasing overlap lock failed", "event", ev.id, "error", err)
			}
		}
	}()

	ctx, span := e.tracer.Start(ctx, "schedule.run",
		trace.WithAttributes(
			attribute.String("event.id", ev.id),
			attribute.String("event.cron", ev.expr),
		))
	defer span.End()

	e.runHooks(ev, ev.beforeHooks, "before")

	start := time.Now()
	output, err := e.invoke(ctx, ev)
	duration := time.Since(start)

	e.runHooks(ev, ev.afterHooks, "after")

	if ev.outputPath != "" {
		e.writeOutput(ev, output)
	}

	if err != nil {
		ev.recordFailure(now)
		span.RecordError(err)
		e.logger.Error("event failed", "event", ev.id, "duration", duration, "error", err)
		e.notifyFailure(ev, err, output)
	} else {
		ev.recordSuccess(now)
		e.logger.Info("event completed", "event", ev.id, "duration", duration)
	}

	if e.metrics != nil {
		e.metrics.recordRun(ev.id, err == nil, duration)
	}

	entry := history.Entry{
		Timestamp: now,
		EventID:   ev.id,
		Success:   err == nil,
		Duration:  duration,
		Output:    output,
	}
	if aerr := e.store.Append(entry); aerr != nil {
		// Log I/O degrades health reporting only, never the run.
		e.logger.Warn("appending history entry failed", "event", ev.id, "error", aerr)
	}
	e.publishEntry(entry)

	res := Result{EventID: ev.id, Err: err, Duration: duration, Output: output}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// invoke runs the bound runner, retrying per the event's policy.
// Runner panics become errors so one broken job cannot take down the
// engine.
func (e *Engine) invoke(ctx context.Context, ev *Event) (output string, err error) {
	attempts := ev.maxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		output, err = e.invokeOnce(ctx, ev)
		if err == nil {
			return output, nil
		}
		if attempt == attempts {
			break
		}
		wait := ev.retryAfter
		if wait > maxRetryWait {
			wait = maxRetryWait
		}
		e.logger.Warn("event failed, retrying",
			"event", ev.id, "attempt", attempt, "wait", wait, "error", err)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return output, err
			case <-time.After(wait):
			}
		}
	}
	return output, err
}

func (e *Engine) invokeOnce(ctx context.Context, ev *Event) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedule: event %s panicked: %v", ev.id, r)
		}
	}()

	if or, ok := ev.run.(runner.OutputRunner); ok {
		return or.RunCapture(ctx)
	}
	return "", ev.run.Run(ctx)
}

// runHooks runs lifecycle hooks in order. Hook errors and panics are
// logged and never abort the run, one consistent rule for before and
// after.
func (e *Engine) runHooks(ev *Event, hooks []Hook, stage string) {
	for i, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("hook panicked",
						"event", ev.id, "stage", stage, "index", i, "panic", r)
				}
			}()
			if err := h(); err != nil {
				e.logger.Error("hook failed",
					"event", ev.id, "stage", stage, "index", i, "error", err)
			}
		}()
	}
}

func (e *Engine) writeOutput(ev *Event, output string) {
	flags := os.O_CREATE | os.O_WRONLY
	if ev.appendOutput {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	if dir := filepath.Dir(ev.outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			e.logger.Warn("creating output dir failed", "event", ev.id, "error", err)
			return
		}
	}
	f, err := os.OpenFile(ev.outputPath, flags, 0o644)
	if err != nil {
		e.logger.Warn("opening output file failed", "event", ev.id, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(output); err != nil {
		e.logger.Warn("writing output file failed", "event", ev.id, "error", err)
	}
}

// notifyFailure hands the failure to the notifier, fire-and-forget.
func (e *Engine) notifyFailure(ev *Event, runErr error, output string) {
	if len(ev.notifyOnFailure) == 0 {
		return
	}
	f := notify.Failure{
		EventID:     ev.id,
		Description: ev.description,
		Error:       runErr.Error(),
		Output:      output,
		Recipients:  append([]string(nil), ev.notifyOnFailure...),
		Timestamp:   time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.notifier.NotifyFailure(ctx, f); err != nil {
			e.logger.Warn("failure notification not delivered", "event", ev.id, "error", err)
		}
	}()
}

func (e *Engine) publishEntry(entry history.Entry) {
	e.publishMu.Lock()
	fn := e.publish
	e.publishMu.Unlock()
	if fn != nil {
		fn(entry)
	}
}

// assignID derives a unique event ID from the runner name. Caller holds
// e.mu.
func (e *Engine) assignID(name string) string {
	id := name
	for n := 2; ; n++ {
		if _, taken := e.ids[id]; !taken {
			break
		}
		id = fmt.Sprintf("%s-%d", name, n)
	}
	e.ids[id] = struct{}{}
	return id
}
