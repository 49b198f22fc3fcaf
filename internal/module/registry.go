package module

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateModule reports a load under an already-mapped name.
	ErrDuplicateModule = errors.New("module already loaded")
	// ErrUnknownModule reports an operation on a name that is not mapped.
	ErrUnknownModule = errors.New("module not loaded")
	// ErrImageOverlap reports a load whose image range collides with a
	// mapped module.
	ErrImageOverlap = errors.New("image range overlaps a loaded module")
)

// UnloadHook observes a module leaving the process, synchronously, before
// Unload returns. Hooks prune any per-module state (the canonicalization
// cache registers one).
type UnloadHook func(*Module)

// Registry is the process-wide set of loaded modules. Load order is
// preserved: it is the deterministic scan order for first-resolved-wins
// canonicalization within one run.
type Registry struct {
	mu      sync.RWMutex
	order   []*Module
	byName  map[string]*Module
	nextGen uint64
	hooks   []UnloadHook
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Module, 8)}
}

// Load maps a module into the registry, assigning its generation.
func (r *Registry) Load(m *Module) error {
	if m == nil {
		return fmt.Errorf("nil module")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[m.name]; ok {
		return fmt.Errorf("%s: %w", m.name, ErrDuplicateModule)
	}
	if m.extent > 0 {
		for _, other := range r.order {
			if other.extent == 0 {
				continue
			}
			if m.base < other.base+other.extent && other.base < m.base+m.extent {
				return fmt.Errorf("%s vs %s: %w", m.name, other.name, ErrImageOverlap)
			}
		}
	}
	r.nextGen++
	m.generation = r.nextGen
	r.order = append(r.order, m)
	r.byName[m.name] = m
	return nil
}

// Unload removes the named module. The module is marked dead and every
// unload hook runs to completion before Unload returns, so dependent caches
// are pruned before the caller can observe the module as gone.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	m, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrUnknownModule)
	}
	delete(r.byName, name)
	for i, other := range r.order {
		if other == m {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	hooks := append([]UnloadHook(nil), r.hooks...)
	r.mu.Unlock()

	m.unloaded.Store(true)
	for _, hook := range hooks {
		hook(m)
	}
	return nil
}

// OnUnload registers a hook fired synchronously for every future unload.
func (r *Registry) OnUnload(hook UnloadHook) {
	if hook == nil {
		return
	}
	r.mu.Lock()
	r.hooks = append(r.hooks, hook)
	r.mu.Unlock()
}

// Lookup returns the module loaded under name.
func (r *Registry) Lookup(name string) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// ModuleAt returns the module whose mapped image covers addr. This is the
// "which module owns this address" primitive the loader normally provides.
func (r *Registry) ModuleAt(addr uint64) (*Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.order {
		if m.Covers(addr) {
			return m, true
		}
	}
	return nil, false
}

// Modules returns the loaded modules in load order.
func (r *Registry) Modules() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Module(nil), r.order...)
}

// Len returns the number of loaded modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
