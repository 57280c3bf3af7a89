package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotRegistered is returned by Registry.Get for unknown names.
// The HTTP layer translates it to a 4xx before any event is written.
var ErrNotRegistered = errors.New("agent not registered")

// Registry maps names to agents. Registration is process-wide and
// idempotent per name; re-registering replaces. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register binds name to a. A previous binding for name is replaced.
func (r *Registry) Register(name string, a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = a
}

// Get returns the agent bound to name.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return a, nil
}

// Has reports whether name is bound.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// List returns all bound names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
