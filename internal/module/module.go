package module

import (
	"errors"
	"fmt"
	"sync/atomic"

	"memscope/internal/uniqtype"
)

// ErrNotFound reports a symbol with no definition in the probed module.
// Absent is expected and recoverable: a module that never used a type has no
// descriptor for it.
var ErrNotFound = errors.New("symbol not found")

// Module is a handle to one loaded binary image. It owns the symbol table of
// descriptors defined in that image and nothing else; descriptors it merely
// imports live in their defining module's table.
type Module struct {
	name       string
	base       uint64
	extent     uint64
	generation uint64

	table map[string]*uniqtype.Descriptor

	unloaded atomic.Bool
}

// New builds a module handle over an already-decoded symbol table. The table
// is keyed by full symbol names (including the __uniqtype__ prefix).
func New(name string, base, extent uint64, table map[string]*uniqtype.Descriptor) *Module {
	owned := make(map[string]*uniqtype.Descriptor, len(table))
	for sym, d := range table {
		owned[sym] = d
	}
	return &Module{
		name:   name,
		base:   base,
		extent: extent,
		table:  owned,
	}
}

func (m *Module) Name() string { return m.name }

// Base returns the lowest address of the mapped image.
func (m *Module) Base() uint64 { return m.base }

// Extent returns the mapped image's length in bytes.
func (m *Module) Extent() uint64 { return m.extent }

// Generation is assigned by the registry at load time and distinguishes
// reloads of a same-named image.
func (m *Module) Generation() uint64 { return m.generation }

// Live reports whether the module is still mapped. Descriptor pointers
// resolved from an unloaded module must not be dereferenced.
func (m *Module) Live() bool { return m != nil && !m.unloaded.Load() }

// Covers reports whether addr falls inside the mapped image.
func (m *Module) Covers(addr uint64) bool {
	return m != nil && addr >= m.base && addr < m.base+m.extent
}

// Resolve probes this module's symbol table for sym. The probe is scoped to
// this module only — there is deliberately no fallback to other modules,
// because callers compare what specific modules each believe a descriptor is
// before unifying them.
func (m *Module) Resolve(sym string) (*uniqtype.Descriptor, error) {
	if m == nil {
		return nil, fmt.Errorf("nil module: %w", ErrNotFound)
	}
	d, ok := m.table[sym]
	if !ok {
		return nil, fmt.Errorf("module %s has no %s: %w", m.name, sym, ErrNotFound)
	}
	return d, nil
}

// ResolveType is Resolve with the __uniqtype__ prefix applied to a bare
// mangled name.
func (m *Module) ResolveType(name string) (*uniqtype.Descriptor, error) {
	return m.Resolve(uniqtype.SymbolPrefix + name)
}

// Defines reports whether the module's table carries sym, without resolving.
func (m *Module) Defines(sym string) bool {
	if m == nil {
		return false
	}
	_, ok := m.table[sym]
	return ok
}

// Symbols calls fn for every (symbol, descriptor) pair in the table.
// Iteration order is unspecified.
func (m *Module) Symbols(fn func(sym string, d *uniqtype.Descriptor) bool) {
	if m == nil {
		return
	}
	for sym, d := range m.table {
		if !fn(sym, d) {
			return
		}
	}
}

// Len returns the number of symbols the module defines.
func (m *Module) Len() int {
	if m == nil {
		return 0
	}
	return len(m.table)
}
