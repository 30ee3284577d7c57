package runner

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
)

// maxCapturedOutput bounds how much combined stdout+stderr a Command
// keeps per run. Older bytes are discarded first.
const maxCapturedOutput = 8 * 1024

// Command runs an external executable. A nonzero exit status is a run
// failure; stdout and stderr are captured together, tail-truncated.
type Command struct {
	name string
	path string
	args []string
	dir  string
	env  []string
}

// NewCommand creates a Command runner. name is the scheduling identity;
// path and args are passed to the OS verbatim.
func NewCommand(name, path string, args ...string) *Command {
	return &Command{name: name, path: path, args: args}
}

// WithDir sets the working directory for the command.
func (c *Command) WithDir(dir string) *Command {
	c.dir = dir
	return c
}

// WithEnv sets the environment (os/exec semantics: nil inherits the
// parent environment, non-nil replaces it).
func (c *Command) WithEnv(env []string) *Command {
	c.env = env
	return c
}

// Name implements Runner.
func (c *Command) Name() string { return c.name }

// Run implements Runner.
func (c *Command) Run(ctx context.Context) error {
	_, err := c.RunCapture(ctx)
	return err
}

// RunCapture implements OutputRunner.
func (c *Command) RunCapture(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Dir = c.dir
	cmd.Env = c.env

	buf := &tailBuffer{limit: maxCapturedOutput}
	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Run(); err != nil {
		return buf.String(), fmt.Errorf("runner: command %q: %w", c.name, err)
	}
	return buf.String(), nil
}

// tailBuffer is an io.Writer that keeps only the last limit bytes
// written. Safe for concurrent writes (stdout and stderr share it).
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
