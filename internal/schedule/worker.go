package schedule

import (
	"context"
	"time"
)

// DefaultWorkInterval is how often the worker polls for due events.
// One minute matches the cron grain; anything finer only re-checks the
// same window.
const DefaultWorkInterval = time.Minute

// Work runs the engine in a loop until ctx is cancelled: one dispatch
// cycle immediately, then one per interval tick. It is what `cronloop
// work` and the system service run.
func (e *Engine) Work(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWorkInterval
	}
	e.logger.Info("worker started", "interval", interval, "events", len(e.Events()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		summary := e.RunDueEvents(ctx, time.Now())
		if summary.Ran > 0 {
			e.logger.Debug("dispatch cycle finished", "ran", summary.Ran)
		}
		select {
		case <-ctx.Done():
			e.logger.Info("worker stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
