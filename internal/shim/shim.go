// Package shim keeps the allocation index synchronized with an allocator's
// live-chunk set. The wrapper is a transparent substitute for the allocator
// it wraps: size in, address out; address in, nothing out. Its one job is
// ordering — the post-allocation hook runs before the address escapes to
// the caller, and the pre-deallocation hook runs to completion before the
// address is released for reuse.
package shim

import (
	"memscope/internal/allocindex"
	"memscope/internal/uniqtype"
)

// Shim wraps an Allocator and mirrors every allocation into the index.
type Shim struct {
	alloc Allocator
	index *allocindex.Index
}

// New wires an allocator to an index.
func New(a Allocator, ix *allocindex.Index) *Shim {
	return &Shim{alloc: a, index: ix}
}

// Index returns the wired index, for queries.
func (s *Shim) Index() *allocindex.Index { return s.index }

// Malloc allocates an untyped chunk and registers it before returning.
// If the index refuses the registration the chunk is released and the
// breach surfaces to the caller: handing out an unindexed address would
// defeat the whole scheme.
func (s *Shim) Malloc(size uint64) (uint64, error) {
	return s.MallocTyped(size, nil)
}

// MallocTyped allocates a chunk whose type is already known at the call
// site, registering it pre-typed.
func (s *Shim) MallocTyped(size uint64, typ *uniqtype.Descriptor) (uint64, error) {
	addr, usable, err := s.alloc.Malloc(size)
	if err != nil {
		return 0, err
	}
	if err := s.index.OnAlloc(addr, usable, typ); err != nil {
		_ = s.alloc.Free(addr)
		return 0, err
	}
	return addr, nil
}

// Free deregisters the chunk and only then releases it, so the range can
// never be reissued while its record is live.
func (s *Shim) Free(addr uint64) error {
	if err := s.index.OnFree(addr); err != nil {
		return err
	}
	return s.alloc.Free(addr)
}

// Realloc moves a live chunk to a new extent, carrying any bound type over
// to the new record.
func (s *Shim) Realloc(addr, size uint64) (uint64, error) {
	if addr == 0 {
		return s.Malloc(size)
	}
	old, err := s.index.Lookup(addr)
	if err != nil || old.Start != addr {
		return 0, &allocindex.IndexError{Kind: allocindex.ErrUnknownAlloc, Addr: addr}
	}
	newAddr, err := s.MallocTyped(size, old.Type)
	if err != nil {
		return 0, err
	}
	if err := s.Free(addr); err != nil {
		return 0, err
	}
	return newAddr, nil
}

// BindType forwards late type binding to the index.
func (s *Shim) BindType(addr uint64, typ *uniqtype.Descriptor) error {
	return s.index.BindType(addr, typ)
}
