package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a generator from its configuration.
type Constructor func(cfg Config) Generator

// Registry maps generator names to constructors. It is safe for
// concurrent use.
type Registry struct {
	ctors map[string]Constructor
	mu    sync.RWMutex
}

// NewRegistry returns a Registry with the built-in generators registered.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register(ScalpName, func(cfg Config) Generator { return NewScalp(cfg.Scalp) })
	r.Register(BlenderName, func(cfg Config) Generator { return NewBlender(cfg.Blender) })
	return r
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = c
}

// Build constructs the generator named by cfg.Name.
func (r *Registry) Build(cfg Config) (Generator, error) {
	r.mu.RLock()
	c, ok := r.ctors[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", cfg.Name)
	}
	return c(cfg), nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
