// Package allocindex maps any address inside a live allocation back to the
// allocation's start, extent, and (when known) type descriptor. The defining
// query is the interior pointer: a pointer into the middle of an array or a
// sub-object must still resolve to the owning allocation, so the index keeps
// records ordered by start address and answers lookups with a floor query
// followed by a range-membership check.
package allocindex

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"memscope/internal/uniqtype"
)

// Record describes one live allocation. Type is nil until the allocation is
// typed (allocate-then-bind is the normal malloc path).
type Record struct {
	Start uint64
	Size  uint64
	Type  *uniqtype.Descriptor
}

// End returns the first address past the allocation.
func (r Record) End() uint64 { return r.Start + r.Size }

// Contains reports whether addr falls inside [Start, Start+Size).
func (r Record) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End()
}

func recordLess(a, b Record) bool { return a.Start < b.Start }

// defaultDegree keeps btree nodes around a cache line's worth of records.
const defaultDegree = 32

// Index is the allocation index. Mutations serialize on the write lock;
// lookups share the read lock, so concurrent queries over disjoint ranges
// never block each other. A lookup racing a free of the same address is the
// caller's use-after-free, not the index's: only structural consistency is
// guaranteed.
type Index struct {
	mu    sync.RWMutex
	tree  *btree.BTreeG[Record]
	stats Stats
}

// New builds an empty index. degree tunes the btree node width; values
// below 2 select the default.
func New(degree int) *Index {
	if degree < 2 {
		degree = defaultDegree
	}
	return &Index{tree: btree.NewG[Record](degree, recordLess)}
}

// OnAlloc registers a live allocation. The shim calls it immediately after
// the real allocator returns, with the adjusted start and size. A collision
// with a live record is an invariant breach and is surfaced, never
// overwritten.
func (ix *Index) OnAlloc(start, size uint64, typ *uniqtype.Descriptor) error {
	if size == 0 {
		return fmt.Errorf("zero-sized allocation at %#x", start)
	}
	if start+size < start {
		return fmt.Errorf("allocation [%#x,+%d) wraps the address space", start, size)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	// The only candidate for overlap is the live record with the greatest
	// start below our end; anything earlier ends before it begins.
	var clash Record
	var found bool
	ix.tree.DescendLessOrEqual(Record{Start: start + size - 1}, func(r Record) bool {
		clash, found = r, true
		return false
	})
	if found && clash.End() > start {
		ix.stats.violations.Add(1)
		return &IndexError{Kind: ErrOverlap, Addr: start, Size: size, Existing: clash}
	}

	ix.tree.ReplaceOrInsert(Record{Start: start, Size: size, Type: typ})
	ix.stats.allocs.Add(1)
	return nil
}

// OnFree removes the record starting at start. The shim calls it before the
// address range is returned to the allocator, so the range can never be
// reissued while its old record is still live.
func (ix *Index) OnFree(start uint64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.tree.Delete(Record{Start: start}); !ok {
		ix.stats.violations.Add(1)
		return &IndexError{Kind: ErrUnknownAlloc, Addr: start}
	}
	ix.stats.frees.Add(1)
	return nil
}

// Lookup resolves any address inside a live allocation to its record:
// floor query on the start addresses, then a bounds check against the
// found record's extent.
func (ix *Index) Lookup(addr uint64) (Record, error) {
	ix.mu.RLock()
	var r Record
	var found bool
	ix.tree.DescendLessOrEqual(Record{Start: addr}, func(cand Record) bool {
		r, found = cand, true
		return false
	})
	ix.mu.RUnlock()

	if !found || !r.Contains(addr) {
		ix.stats.misses.Add(1)
		return Record{}, fmt.Errorf("%#x: %w", addr, ErrNotFound)
	}
	ix.stats.hits.Add(1)
	return r, nil
}

// BindType attaches or replaces the type of the live record starting at
// start. Late binding is legal; start and size never change.
func (ix *Index) BindType(start uint64, typ *uniqtype.Descriptor) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	r, ok := ix.tree.Get(Record{Start: start})
	if !ok {
		ix.stats.violations.Add(1)
		return &IndexError{Kind: ErrUnknownAlloc, Addr: start}
	}
	r.Type = typ
	ix.tree.ReplaceOrInsert(r)
	ix.stats.binds.Add(1)
	return nil
}

// Len returns the number of live records.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}

// Walk visits live records in ascending start order until fn returns false.
// The snapshot is taken under the read lock; fn must not mutate the index.
func (ix *Index) Walk(fn func(Record) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.tree.Ascend(func(r Record) bool { return fn(r) })
}

// Stats returns a snapshot of the index counters.
func (ix *Index) Stats() StatsSnapshot { return ix.stats.snapshot() }
