package step

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry holds registered step descriptors indexed by name. The zero
// value is not usable; create one with NewRegistry.
//
// Registration normally happens once at startup while units load, but the
// registry guards its map so later lookups are safe from any goroutine.
// Re-registering a name overwrites the previous descriptor; the overwrite
// is logged at debug level and surfaces as a warning in `trestle check`,
// never as an error here.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]*Descriptor
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor under its effective name, replacing any
// previous descriptor with that name.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	_, replaced := r.steps[d.name]
	r.steps[d.name] = d
	r.mu.Unlock()
	if replaced {
		slog.Debug("step overwritten in registry", "step", d.name)
	}
}

// Get retrieves a descriptor by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.steps[name]
	return d, ok
}

// Names returns the registered step names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered descriptors sorted by name.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	all := make([]*Descriptor, len(names))
	for i, name := range names {
		all[i] = r.steps[name]
	}
	return all
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// Reset removes every registered step. Intended for test isolation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = make(map[string]*Descriptor)
}
