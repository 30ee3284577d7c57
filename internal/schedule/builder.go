package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/cronloop/internal/cronexpr"
)

// Builder is the fluent configuration surface returned by
// Engine.Register. Every method returns the Builder for chaining; the
// first cron-related error sticks and is reported by Err (and again at
// run time, so a misconfigured event cannot silently drop off the
// schedule).
//
// Frequency helpers overwrite the expression (last write wins); filter,
// reject, and hook methods append in call order.
type Builder struct {
	ev *Event
}

// Err returns the first configuration error, if any.
func (b *Builder) Err() error { return b.ev.cronErr }

// Event returns the underlying event (read-only use: listing, tests).
func (b *Builder) Event() *Event { return b.ev }

// Cron sets a raw 5-field cron expression.
func (b *Builder) Cron(expr string) *Builder { return b.setCron(expr) }

// EveryMinute schedules the event for every minute.
func (b *Builder) EveryMinute() *Builder { return b.setCron("* * * * *") }

// EveryTwoMinutes schedules the event for every two minutes.
func (b *Builder) EveryTwoMinutes() *Builder { return b.setCron("*/2 * * * *") }

// EveryFiveMinutes schedules the event for every five minutes.
func (b *Builder) EveryFiveMinutes() *Builder { return b.setCron("*/5 * * * *") }

// EveryTenMinutes schedules the event for every ten minutes.
func (b *Builder) EveryTenMinutes() *Builder { return b.setCron("*/10 * * * *") }

// EveryFifteenMinutes schedules the event for every fifteen minutes.
func (b *Builder) EveryFifteenMinutes() *Builder { return b.setCron("*/15 * * * *") }

// EveryThirtyMinutes schedules the event for every thirty minutes.
func (b *Builder) EveryThirtyMinutes() *Builder { return b.setCron("*/30 * * * *") }

// Hourly schedules the event at minute zero of every hour.
func (b *Builder) Hourly() *Builder { return b.setCron("0 * * * *") }

// HourlyAt schedules the event at the given minute of every hour.
func (b *Builder) HourlyAt(minute int) *Builder {
	if minute < 0 || minute > 59 {
		return b.fail(fmt.Errorf("schedule: hourlyAt minute %d out of range", minute))
	}
	return b.setCron(fmt.Sprintf("%d * * * *", minute))
}

// Daily schedules the event at midnight.
func (b *Builder) Daily() *Builder { return b.setCron("0 0 * * *") }

// DailyAt schedules the event at the given "H:MM" time of day.
func (b *Builder) DailyAt(at string) *Builder {
	hour, minute, err := parseTimeOfDay(at)
	if err != nil {
		return b.fail(err)
	}
	return b.setCron(fmt.Sprintf("%d %d * * *", minute, hour))
}

// TwiceDaily schedules the event at minute zero of two hours.
func (b *Builder) TwiceDaily(first, second int) *Builder {
	if first < 0 || first > 23 || second < 0 || second > 23 {
		return b.fail(fmt.Errorf("schedule: twiceDaily hours %d,%d out of range", first, second))
	}
	return b.setCron(fmt.Sprintf("0 %d,%d * * *", first, second))
}

// Weekly schedules the event at midnight on Sunday.
func (b *Builder) Weekly() *Builder { return b.setCron("0 0 * * 0") }

// WeeklyOn schedules the event on a weekday (0 = Sunday) at "H:MM".
func (b *Builder) WeeklyOn(day int, at string) *Builder {
	if day < 0 || day > 6 {
		return b.fail(fmt.Errorf("schedule: weeklyOn day %d out of range", day))
	}
	hour, minute, err := parseTimeOfDay(at)
	if err != nil {
		return b.fail(err)
	}
	return b.setCron(fmt.Sprintf("%d %d * * %d", minute, hour, day))
}

// Monthly schedules the event at midnight on the first of the month.
func (b *Builder) Monthly() *Builder { return b.setCron("0 0 1 * *") }

// MonthlyOn schedules the event on a day of the month at "H:MM".
func (b *Builder) MonthlyOn(day int, at string) *Builder {
	if day < 1 || day > 31 {
		return b.fail(fmt.Errorf("schedule: monthlyOn day %d out of range", day))
	}
	hour, minute, err := parseTimeOfDay(at)
	if err != nil {
		return b.fail(err)
	}
	return b.setCron(fmt.Sprintf("%d %d %d * *", minute, hour, day))
}

// Yearly schedules the event at midnight on January 1st.
func (b *Builder) Yearly() *Builder { return b.setCron("0 0 1 1 *") }

// Weekdays restricts the current every-minute cadence to Monday-Friday.
func (b *Builder) Weekdays() *Builder { return b.setCron("* * * * 1-5") }

// Weekends restricts the current every-minute cadence to Saturday-Sunday.
func (b *Builder) Weekends() *Builder { return b.setCron("* * * * 0,6") }

// Sundays through Saturdays schedule every minute of the named weekday.
func (b *Builder) Sundays() *Builder    { return b.setCron("* * * * 0") }
func (b *Builder) Mondays() *Builder    { return b.setCron("* * * * 1") }
func (b *Builder) Tuesdays() *Builder   { return b.setCron("* * * * 2") }
func (b *Builder) Wednesdays() *Builder { return b.setCron("* * * * 3") }
func (b *Builder) Thursdays() *Builder  { return b.setCron("* * * * 4") }
func (b *Builder) Fridays() *Builder    { return b.setCron("* * * * 5") }
func (b *Builder) Saturdays() *Builder  { return b.setCron("* * * * 6") }

// Timezone pins all schedule evaluation to an IANA zone name.
func (b *Builder) Timezone(tz string) *Builder {
	b.ev.timezone = tz
	return b.setCron(b.ev.expr) // re-parse under the new zone
}

// Between only runs the event inside the "H:MM"–"H:MM" window. A start
// later than the end means the window wraps past midnight. The window
// is read in the event's timezone when one is pinned.
func (b *Builder) Between(start, end string) *Builder {
	if err := validateWindow(start, end); err != nil {
		return b.fail(err)
	}
	ev := b.ev
	ev.filters = append(ev.filters, func() bool {
		return inTimeWindow(ev.clock(timeNow()), start, end)
	})
	return b
}

// UnlessBetween skips the event inside the "H:MM"–"H:MM" window,
// with the same midnight-wrapping rule as Between.
func (b *Builder) UnlessBetween(start, end string) *Builder {
	if err := validateWindow(start, end); err != nil {
		return b.fail(err)
	}
	ev := b.ev
	ev.rejects = append(ev.rejects, func() bool {
		return inTimeWindow(ev.clock(timeNow()), start, end)
	})
	return b
}

// When appends a filter: the event only runs if every filter returns true.
func (b *Builder) When(p Predicate) *Builder {
	b.ev.filters = append(b.ev.filters, p)
	return b
}

// Skip appends a reject: the event never runs while any reject returns true.
func (b *Builder) Skip(p Predicate) *Builder {
	b.ev.rejects = append(b.ev.rejects, p)
	return b
}

// WithoutOverlapping prevents a new run while a previous one is still
// in progress, using a filesystem mutex keyed by the runner identity,
// so two separately registered events for the same command exclude each
// other too. expiry (0 means 24 h) is advisory metadata for operators.
func (b *Builder) WithoutOverlapping(expiry time.Duration) *Builder {
	if expiry <= 0 {
		expiry = defaultLockExpiry
	}
	b.ev.withoutOverlapping = true
	b.ev.lockExpiry = expiry
	b.ev.mutexKey = mutexKeyFor(b.ev.run.Name())
	return b
}

// OnOneServer marks the event for best-effort single-machine exclusion.
// This is the same filesystem lock as WithoutOverlapping, not a
// distributed lock.
func (b *Builder) OnOneServer() *Builder {
	b.ev.onOneServer = true
	return b.WithoutOverlapping(b.ev.lockExpiry)
}

// RunInBackground detaches execution from the dispatch loop: the run
// completes (and is recorded) asynchronously so one slow command does
// not delay other due events.
func (b *Builder) RunInBackground() *Builder {
	b.ev.runInBackground = true
	return b
}

// Environments restricts the event to the named environments.
// No restriction means the event runs everywhere.
func (b *Builder) Environments(names ...string) *Builder {
	if b.ev.environments == nil {
		b.ev.environments = make(map[string]struct{}, len(names))
	}
	for _, n := range names {
		b.ev.environments[n] = struct{}{}
	}
	return b
}

// Before appends a hook run before the command.
func (b *Builder) Before(h Hook) *Builder {
	b.ev.beforeHooks = append(b.ev.beforeHooks, h)
	return b
}

// After appends a hook run after the command, regardless of outcome.
func (b *Builder) After(h Hook) *Builder {
	b.ev.afterHooks = append(b.ev.afterHooks, h)
	return b
}

// SendOutputTo writes captured output to path, truncating each run.
func (b *Builder) SendOutputTo(path string) *Builder {
	b.ev.outputPath = path
	b.ev.appendOutput = false
	return b
}

// AppendOutputTo appends captured output to path.
func (b *Builder) AppendOutputTo(path string) *Builder {
	b.ev.outputPath = path
	b.ev.appendOutput = true
	return b
}

// EmailOutputOnFailure hands the given addresses to the failure
// notifier when a run fails. Delivery is the notifier's problem.
func (b *Builder) EmailOutputOnFailure(addrs ...string) *Builder {
	b.ev.notifyOnFailure = append(b.ev.notifyOnFailure, addrs...)
	return b
}

// RetryAfter sets the in-cycle retry delay in minutes.
func (b *Builder) RetryAfter(minutes int) *Builder {
	b.ev.retryAfter = time.Duration(minutes) * time.Minute
	return b
}

// MaxAttempts sets how many times a failing run is attempted per cycle.
func (b *Builder) MaxAttempts(n int) *Builder {
	b.ev.maxAttempts = n
	return b
}

// Description sets the human-readable label.
func (b *Builder) Description(text string) *Builder {
	b.ev.description = text
	return b
}

func (b *Builder) setCron(expr string) *Builder {
	sched, err := cronexpr.ParseInLocation(expr, b.ev.timezone)
	if err != nil {
		return b.fail(err)
	}
	b.ev.expr = expr
	b.ev.sched = sched
	return b
}

// fail records the first error and keeps the previous valid schedule.
func (b *Builder) fail(err error) *Builder {
	if b.ev.cronErr == nil {
		b.ev.cronErr = err
	}
	return b
}

// parseTimeOfDay parses "H:MM" (or "HH:MM") into hour and minute.
func parseTimeOfDay(at string) (hour, minute int, err error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("schedule: time %q is not H:MM", at)
	}
	hour, herr := strconv.Atoi(parts[0])
	minute, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("schedule: time %q is not a valid H:MM", at)
	}
	return hour, minute, nil
}

func validateWindow(start, end string) error {
	if _, _, err := parseTimeOfDay(start); err != nil {
		return err
	}
	if _, _, err := parseTimeOfDay(end); err != nil {
		return err
	}
	return nil
}

// inTimeWindow reports whether now's time of day falls in [start, end].
// start > end wraps past midnight: between("22:00","02:00") matches
// 23:00 and 01:00 but not 12:00.
func inTimeWindow(now time.Time, start, end string) bool {
	sh, sm, err := parseTimeOfDay(start)
	if err != nil {
		return false
	}
	eh, em, err := parseTimeOfDay(end)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	from := sh*60 + sm
	to := eh*60 + em
	if from <= to {
		return cur >= from && cur <= to
	}
	return cur >= from || cur <= to
}
