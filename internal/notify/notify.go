// Package notify delivers failure notifications for scheduled events.
// Delivery is fire-and-forget from the engine's perspective: a notifier
// that fails is logged and never affects the run result.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Failure describes one failed run.
type Failure struct {
	EventID     string    `json:"event_id"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error"`
	Output      string    `json:"output,omitempty"`
	Recipients  []string  `json:"recipients,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Notifier delivers failure notifications.
type Notifier interface {
	NotifyFailure(ctx context.Context, f Failure) error
}

// LogNotifier writes failures to the log. It is the default sink when no
// webhook is configured, so "email on failure" recipients are at least
// visible somewhere.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// NotifyFailure implements Notifier.
func (n *LogNotifier) NotifyFailure(_ context.Context, f Failure) error {
	n.logger.Error("scheduled event failed",
		"event", f.EventID,
		"error", f.Error,
		"recipients", f.Recipients,
	)
	return nil
}
