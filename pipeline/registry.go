package pipeline

import (
	"sort"
	"sync"
)

// Registry holds pipeline descriptors indexed by name. The zero value is
// not usable; create one with NewRegistry.
//
// Re-registering a name overwrites the previous descriptor, mirroring the
// step registry's last-write-wins behavior.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*Descriptor
}

// NewRegistry creates an empty pipeline registry.
func NewRegistry() *Registry {
	return &Registry{
		pipelines: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor under its name, replacing any previous
// descriptor with that name.
func (r *Registry) Register(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[d.name] = d
}

// Get retrieves a pipeline by name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.pipelines[name]
	return d, ok
}

// Names returns the registered pipeline names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered pipelines sorted by name.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	all := make([]*Descriptor, len(names))
	for i, name := range names {
		all[i] = r.pipelines[name]
	}
	return all
}

// Len returns the number of registered pipelines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipelines)
}

// Reset removes every registered pipeline. Intended for test isolation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines = make(map[string]*Descriptor)
}
