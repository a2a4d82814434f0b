package cpi

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/stratum/pkg/process"
)

// Constructor builds a backend from its configured options.
type Constructor func(options Properties, p *process.Process) (Cloud, error)

// Registry maps backend names to constructors. It is populated at build
// time by the backends package; unknown names fail when the provider
// configuration is resolved.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register adds a backend constructor.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" {
		return fmt.Errorf("backend name is required")
	}
	if ctor == nil {
		return fmt.Errorf("backend %s: constructor is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("backend %s already registered", name)
	}
	r.constructors[name] = ctor
	return nil
}

// MustRegister is Register for static initialization; it panics on error.
func (r *Registry) MustRegister(name string, ctor Constructor) {
	if err := r.Register(name, ctor); err != nil {
		panic(err)
	}
}

// Lookup returns the constructor registered under name.
func (r *Registry) Lookup(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctor, ok := r.constructors[name]
	return ctor, ok
}

// Names lists registered backends in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named backend and wraps it in a NativeAdapter.
func (r *Registry) Build(name string, options Properties, p *process.Process) (*NativeAdapter, error) {
	ctor, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (registered: %v)", name, r.Names())
	}
	cloud, err := ctor(options, p)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backend %s: %w", name, err)
	}
	return NewNativeAdapter(name, cloud), nil
}
