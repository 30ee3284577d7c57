// Package cronexpr evaluates standard 5-field cron expressions
// (minute, hour, day-of-month, month, day-of-week) against wall-clock
// time. Parsing and forward computation delegate to robfig/cron; this
// package adds the backward computation (Prev) and the due-window check
// that a once-a-minute polling engine needs.
package cronexpr

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// DueWindow is how far behind "now" the most recent fire time may be for
// the expression to still count as due. A poll loop ticking once per
// minute therefore fires each scheduled minute exactly once, tolerating
// loop jitter within the minute.
const DueWindow = time.Minute

// searchHorizon bounds the backward search in Prev. robfig gives up
// looking forward after five years; mirror that looking backward.
const searchHorizon = 6 * 366 * 24 * time.Hour

// parser accepts exactly five fields: minute, hour, day-of-month, month,
// day-of-week. No seconds, no @descriptors, just the crontab(5) dialect.
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// ParseError reports a malformed cron expression. There is no fallback
// cadence: callers must treat this as a hard registration error.
type ParseError struct {
	Expr string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cronexpr: invalid expression %q: %v", e.Expr, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Schedule is a parsed, immutable cron expression, optionally pinned to
// a time zone.
type Schedule struct {
	expr  string
	tz    string
	sched cronlib.Schedule
}

// Parse parses a 5-field cron expression. Each field supports exact
// values, `*`, ranges `A-B`, steps `*/N` and `A-B/N`, comma lists, and
// month/weekday names. When both day-of-month and day-of-week are
// restricted, a time matches if either field matches (crontab semantics).
func Parse(expr string) (*Schedule, error) {
	return ParseInLocation(expr, "")
}

// ParseInLocation parses expr and pins all evaluation to the named IANA
// time zone. An empty tz means the process-local zone.
func ParseInLocation(expr, tz string) (*Schedule, error) {
	full := expr
	if tz != "" {
		full = "CRON_TZ=" + tz + " " + expr
	}
	sched, err := parser.Parse(full)
	if err != nil {
		return nil, &ParseError{Expr: expr, Err: err}
	}
	return &Schedule{expr: expr, tz: tz, sched: sched}, nil
}

// Expression returns the raw 5-field expression this schedule was parsed
// from, without any time-zone prefix.
func (s *Schedule) Expression() string { return s.expr }

// Location returns the IANA zone name the schedule is pinned to, or ""
// for the process-local zone.
func (s *Schedule) Location() string { return s.tz }

// Next returns the smallest fire time strictly after from, or the zero
// time if the expression cannot fire within robfig's five-year horizon.
func (s *Schedule) Next(from time.Time) time.Time {
	return s.sched.Next(from)
}

// Prev returns the largest fire time at-or-before from, or the zero time
// if no fire time exists within the search horizon.
//
// Fire times are minute-aligned, so the previous one is found by backing
// off exponentially until a window containing at least one fire is hit,
// then walking forward through that window with Next. Cost is logarithmic
// in the gap size rather than linear in minutes.
func (s *Schedule) Prev(from time.Time) time.Time {
	from = from.Truncate(time.Minute)

	for back := time.Minute; back <= searchHorizon; back *= 2 {
		start := from.Add(-back)
		first := s.sched.Next(start)
		if first.IsZero() || first.After(from) {
			continue // no fire in (start, from]; widen the window
		}
		// Walk forward to the last fire at-or-before from.
		last := first
		for {
			n := s.sched.Next(last)
			if n.IsZero() || n.After(from) {
				return last
			}
			last = n
		}
	}
	return time.Time{}
}

// IsDue reports whether the most recent fire time at-or-before now falls
// within the last DueWindow of now. The window is half-open: a fire
// exactly 60 seconds ago is no longer due, so consecutive minute
// boundaries never double-fire.
func (s *Schedule) IsDue(now time.Time) bool {
	prev := s.Prev(now)
	if prev.IsZero() {
		return false
	}
	return now.Sub(prev) < DueWindow
}
