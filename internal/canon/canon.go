// Package canon unifies structurally identical type descriptors that were
// independently emitted into separate modules, so that pointer equality of
// descriptors implies type equality process-wide.
//
// Canonicalization is lazy: nothing is scanned at module load. The first
// cross-module reference to a symbol resolves it in every module that
// defines it, verifies the definitions are structurally compatible, and
// publishes the first-resolved instance as canonical for the rest of the
// run. Leaf types that the build already placed in a linker-merged section
// pass through the same path; for them every module yields the same
// instance and publication merely records the invariant.
package canon

import (
	"fmt"
	"sync"

	"memscope/internal/module"
	"memscope/internal/uniqtype"
)

type entry struct {
	desc  *uniqtype.Descriptor
	owner *module.Module
	err   *ConflictError // sticky: conflicting builds stay conflicting
}

// Canonicalizer is the process-wide canonicalization service. One instance
// per registry; tests construct isolated pairs with synthetic modules.
type Canonicalizer struct {
	reg *module.Registry

	mu    sync.RWMutex
	cache map[string]*entry

	// owners survives cache pruning so Live can still classify pointers
	// obtained before an unload. Bounded by the number of descriptors ever
	// canonicalized.
	owners map[*uniqtype.Descriptor]ownerInfo
}

type ownerInfo struct {
	mod *module.Module
	sym string
}

// New builds a canonicalizer over the registry and hooks its cache into the
// registry's unload notifications.
func New(reg *module.Registry) *Canonicalizer {
	c := &Canonicalizer{
		reg:    reg,
		cache:  make(map[string]*entry, 64),
		owners: make(map[*uniqtype.Descriptor]ownerInfo, 64),
	}
	reg.OnUnload(c.pruneModule)
	return c
}

// Canonicalize returns the canonical descriptor for sym, resolving it in
// every loaded module on first use. Returns module.ErrNotFound (wrapped)
// when no loaded module defines sym, or a *ConflictError when two modules
// disagree about its shape.
func (c *Canonicalizer) Canonicalize(sym string) (*uniqtype.Descriptor, error) {
	c.mu.RLock()
	e, ok := c.cache[sym]
	c.mu.RUnlock()
	if ok {
		return e.result()
	}

	cand, err := c.scan(sym)
	if err != nil {
		if conflict, ok := err.(*ConflictError); ok {
			return c.publish(sym, &entry{err: conflict})
		}
		return nil, err
	}
	return c.publish(sym, cand)
}

// Resolve is the module-scoped entry point: it verifies m itself defines
// sym (no global fallback), checks the local instance against the canonical
// shape, and returns the canonical instance — which may live in another
// module when the local copy lost the first-resolved race.
func (c *Canonicalizer) Resolve(m *module.Module, sym string) (*uniqtype.Descriptor, error) {
	local, err := m.Resolve(sym)
	if err != nil {
		return nil, err
	}
	canonical, err := c.Canonicalize(sym)
	if err != nil {
		return nil, err
	}
	if canonical != local {
		// Forwarded: the local copy was superseded. The shapes were already
		// verified compatible when the canonical entry was published, but
		// this module may have loaded afterwards.
		if err := uniqtype.CheckCompatible(canonical, local); err != nil {
			return nil, &ConflictError{
				Symbol:  sym,
				ModuleA: c.ownerName(canonical),
				ModuleB: m.Name(),
				Reason:  err,
			}
		}
	}
	return canonical, nil
}

// Same is the type-equality predicate: pointer identity of canonicalized
// descriptors.
func Same(a, b *uniqtype.Descriptor) bool { return a != nil && a == b }

// Live reports whether d may still be dereferenced. A canonical descriptor
// whose owning module has been unloaded yields a *StaleError; descriptors
// this canonicalizer never published are not its to judge and pass.
func (c *Canonicalizer) Live(d *uniqtype.Descriptor) error {
	if d == nil {
		return fmt.Errorf("nil descriptor")
	}
	c.mu.RLock()
	info, ok := c.owners[d]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	if !info.mod.Live() {
		return &StaleError{
			Symbol:     info.sym,
			Module:     info.mod.Name(),
			Generation: info.mod.Generation(),
		}
	}
	return nil
}

// scan resolves sym independently in every loaded module, in load order,
// and picks the first definition as the canonical candidate after checking
// the rest against it.
func (c *Canonicalizer) scan(sym string) (*entry, error) {
	var cand *entry
	for _, m := range c.reg.Modules() {
		d, err := m.Resolve(sym)
		if err != nil {
			continue // this module never used the type
		}
		if cand == nil {
			cand = &entry{desc: d, owner: m}
			continue
		}
		if d == cand.desc {
			continue // linker-merged: same instance either way
		}
		if err := uniqtype.CheckCompatible(cand.desc, d); err != nil {
			return nil, &ConflictError{
				Symbol:  sym,
				ModuleA: cand.owner.Name(),
				ModuleB: m.Name(),
				Reason:  err,
			}
		}
	}
	if cand == nil {
		return nil, fmt.Errorf("no loaded module defines %s: %w", sym, module.ErrNotFound)
	}
	return cand, nil
}

// publish installs e for sym unless another thread got there first; exactly
// one outcome wins and every later read converges on it. The winning
// entry's result is returned either way, so a thread that lost the race
// adopts the published instance instead of its own candidate.
func (c *Canonicalizer) publish(sym string, e *entry) (*uniqtype.Descriptor, error) {
	c.mu.Lock()
	if won, ok := c.cache[sym]; ok {
		c.mu.Unlock()
		return won.result()
	}
	c.cache[sym] = e
	if e.desc != nil {
		c.owners[e.desc] = ownerInfo{mod: e.owner, sym: sym}
	}
	c.mu.Unlock()
	return e.result()
}

// pruneModule drops every cache entry whose canonical instance lives in the
// departing module. Symbols other modules still define re-canonicalize on
// next use; symbols the module owned exclusively simply disappear.
func (c *Canonicalizer) pruneModule(gone *module.Module) {
	c.mu.Lock()
	for sym, e := range c.cache {
		if e.owner == gone {
			delete(c.cache, sym)
		}
		if e.err != nil && (e.err.ModuleA == gone.Name() || e.err.ModuleB == gone.Name()) {
			// A conflict involving the departed module may be resolvable now.
			delete(c.cache, sym)
		}
	}
	c.mu.Unlock()
}

// Cached returns the published canonical instance without triggering a
// scan.
func (c *Canonicalizer) Cached(sym string) (*uniqtype.Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[sym]
	if !ok || e.desc == nil {
		return nil, false
	}
	return e.desc, true
}

// Owner returns the module whose instance of d became canonical.
func (c *Canonicalizer) Owner(d *uniqtype.Descriptor) (*module.Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.owners[d]
	if !ok {
		return nil, false
	}
	return info.mod, true
}

func (c *Canonicalizer) ownerName(d *uniqtype.Descriptor) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if info, ok := c.owners[d]; ok {
		return info.mod.Name()
	}
	return "?"
}

func (e *entry) result() (*uniqtype.Descriptor, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.desc, nil
}
