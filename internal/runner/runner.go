// Package runner defines the execution boundary between the scheduler
// and the work it dispatches. A Runner is one of three kinds: an external
// command (exit code signals failure), a plain function, or a job object
// with a Handle method. The engine never inspects which kind it holds.
package runner

import "context"

// Runner is a unit of schedulable work.
type Runner interface {
	// Name returns a stable identity for this work. It feeds logging,
	// history entries, and the overlap-mutex key, so two Runners that
	// represent the same logical work should share a name.
	Name() string

	// Run executes the work. Implementations should check ctx.Done()
	// for graceful cancellation. A non-nil error marks the run failed.
	Run(ctx context.Context) error
}

// OutputRunner is implemented by runners that capture output worth
// recording alongside the run result.
type OutputRunner interface {
	Runner

	// RunCapture executes the work and returns its captured output,
	// tail-truncated to a bounded size.
	RunCapture(ctx context.Context) (string, error)
}

// Job is the handle-style contract for job objects. ForJob adapts one
// into a Runner.
type Job interface {
	Name() string
	Handle(ctx context.Context) error
}

type jobRunner struct {
	job Job
}

// ForJob wraps a Job as a Runner.
func ForJob(j Job) Runner {
	return &jobRunner{job: j}
}

func (r *jobRunner) Name() string                  { return r.job.Name() }
func (r *jobRunner) Run(ctx context.Context) error { return r.job.Handle(ctx) }

// Func wraps a plain function as a Runner.
type Func struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFunc creates a Runner from a function.
func NewFunc(name string, fn func(ctx context.Context) error) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string                  { return f.name }
func (f *Func) Run(ctx context.Context) error { return f.fn(ctx) }
