// Package crontab installs and removes the single crontab line that has
// the OS invoke the scheduler's run entry point every minute. The line
// lives inside a marker-bracketed block so install and uninstall are
// idempotent and never touch unrelated crontab content.
package crontab

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

const (
	// MarkerBegin and MarkerEnd bracket the managed block. Uninstall
	// removes exactly the lines between them, inclusive.
	MarkerBegin = "# cronloop:begin"
	MarkerEnd   = "# cronloop:end"
)

// IntegrationError reports an OS-level crontab failure: missing
// crontab(1) binary, permission denial, or a write that was rejected.
type IntegrationError struct {
	Op  string
	Err error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("crontab: %s: %v", e.Op, e.Err)
}

func (e *IntegrationError) Unwrap() error { return e.Err }

// runFunc executes crontab(1) with args and optional stdin, returning
// combined output. Injectable for tests.
type runFunc func(args []string, stdin string) (string, error)

// Status describes the current installation state.
type Status struct {
	Installed bool   `json:"installed"`
	Entry     string `json:"entry,omitempty"`
	User      string `json:"user,omitempty"`
}

// Manager reads and writes the managed crontab block.
type Manager struct {
	binary string // command invoked every minute
	user   string // non-empty selects crontab -u
	run    runFunc
}

// NewManager creates a Manager. binary is the invocation the crontab
// entry runs (typically the absolute path of this executable); user, if
// non-empty, targets another user's crontab via crontab -u.
func NewManager(binary, user string) *Manager {
	return &Manager{binary: binary, user: user, run: execCrontab}
}

// EntryLine returns the schedule line the managed block contains.
func (m *Manager) EntryLine() string {
	return fmt.Sprintf("* * * * * %s run >> /dev/null 2>&1", m.binary)
}

// Install adds the managed block if absent. Calling it twice leaves
// exactly one block in place.
func (m *Manager) Install() error {
	current, err := m.read()
	if err != nil {
		return err
	}
	if containsBlock(current) {
		return nil
	}

	lines := splitLines(current)
	lines = append(lines, MarkerBegin, m.EntryLine(), MarkerEnd)
	return m.write(joinLines(lines))
}

// Uninstall removes the managed block. Everything outside the block is
// written back unchanged; a crontab without the block is left alone.
func (m *Manager) Uninstall() error {
	current, err := m.read()
	if err != nil {
		return err
	}
	if !containsBlock(current) {
		return nil
	}

	var kept []string
	inBlock := false
	for _, line := range splitLines(current) {
		switch {
		case strings.TrimSpace(line) == MarkerBegin:
			inBlock = true
		case strings.TrimSpace(line) == MarkerEnd:
			inBlock = false
		case !inBlock:
			kept = append(kept, line)
		}
	}
	return m.write(joinLines(kept))
}

// Installed reports whether the managed block is present.
func (m *Manager) Installed() (bool, error) {
	current, err := m.read()
	if err != nil {
		return false, err
	}
	return containsBlock(current), nil
}

// Status returns read-only installation state.
func (m *Manager) Status() (Status, error) {
	installed, err := m.Installed()
	if err != nil {
		return Status{}, err
	}
	st := Status{Installed: installed, User: m.user}
	if installed {
		st.Entry = m.EntryLine()
	}
	return st, nil
}

// read returns the current crontab content. A user with no crontab yet
// reads as empty, not as an error.
func (m *Manager) read() (string, error) {
	args := m.userArgs()
	args = append(args, "-l")
	out, err := m.run(args, "")
	if err != nil {
		if strings.Contains(out, "no crontab for") {
			return "", nil
		}
		return "", &IntegrationError{Op: "read", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(out))}
	}
	return out, nil
}

// write replaces the crontab by piping content through `crontab -`,
// which swaps the file in atomically on the crontab(1) side.
func (m *Manager) write(content string) error {
	args := m.userArgs()
	args = append(args, "-")
	if out, err := m.run(args, content); err != nil {
		return &IntegrationError{Op: "write", Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(out))}
	}
	return nil
}

func (m *Manager) userArgs() []string {
	if m.user != "" {
		return []string{"-u", m.user}
	}
	return nil
}

func containsBlock(content string) bool {
	for _, line := range splitLines(content) {
		if strings.TrimSpace(line) == MarkerBegin {
			return true
		}
	}
	return false
}

// splitLines splits content into lines without a trailing empty element.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}

// joinLines joins lines into crontab file content. crontab(1) requires
// a trailing newline; an empty line set yields empty content.
func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// execCrontab is the production runFunc.
func execCrontab(args []string, stdin string) (string, error) {
	cmd := exec.Command("crontab", args...)
	if stdin != "" || contains(args, "-") {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
