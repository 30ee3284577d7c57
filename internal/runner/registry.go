package runner

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps names to Runners. It replaces reflection-based command
// discovery: everything is registered explicitly at process start.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

// Register adds a Runner under its own name. Returns an error if the
// name is already taken.
func (r *Registry) Register(run Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := run.Name()
	if _, exists := r.runners[name]; exists {
		return fmt.Errorf("runner: duplicate name %q", name)
	}
	r.runners[name] = run
	return nil
}

// Get returns the Runner registered under name.
func (r *Registry) Get(name string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runners[name]
	return run, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
