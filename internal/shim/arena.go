package shim

import (
	"errors"
	"fmt"
	"sync"
)

// Allocator is the contract the shim wraps: the same shape as the
// underlying malloc/free pair, plus the usable size the allocator actually
// reserved, since the index must record the adjusted extent rather than the
// requested one.
type Allocator interface {
	Malloc(size uint64) (addr, usable uint64, err error)
	Free(addr uint64) error
}

var (
	// ErrOutOfMemory reports an exhausted arena.
	ErrOutOfMemory = errors.New("arena exhausted")
	// ErrBadFree reports a free of an address the allocator never issued,
	// or issued and already reclaimed.
	ErrBadFree = errors.New("free of unallocated address")
)

// arenaAlign is the chunk granularity; every usable size is a multiple.
const arenaAlign = 16

type block struct {
	usable uint64
	freed  bool
}

// Arena is the reference Allocator: it carves aligned chunks out of one
// contiguous span of a synthetic address space and reuses freed chunks of
// the same rounded size. It exists to exercise the shim contract and the
// index; it holds no backing memory.
type Arena struct {
	mu       sync.Mutex
	next     uint64
	limit    uint64
	blocks   map[uint64]*block
	freelist map[uint64][]uint64
}

// NewArena builds an arena issuing addresses in [base, base+size).
func NewArena(base, size uint64) *Arena {
	start := roundUp(base)
	if start == 0 {
		start = arenaAlign // never issue address 0
	}
	return &Arena{
		next:     start,
		limit:    base + size,
		blocks:   make(map[uint64]*block, 128),
		freelist: make(map[uint64][]uint64, 16),
	}
}

func roundUp(n uint64) uint64 {
	return (n + arenaAlign - 1) &^ (arenaAlign - 1)
}

// Malloc reserves a chunk of at least size bytes and returns its address
// and the usable (rounded) extent.
func (a *Arena) Malloc(size uint64) (uint64, uint64, error) {
	if size == 0 {
		size = 1 // malloc(0) still yields a distinct chunk
	}
	usable := roundUp(size)
	a.mu.Lock()
	defer a.mu.Unlock()

	if list := a.freelist[usable]; len(list) > 0 {
		addr := list[len(list)-1]
		a.freelist[usable] = list[:len(list)-1]
		a.blocks[addr].freed = false
		return addr, usable, nil
	}

	addr := a.next
	if addr+usable > a.limit || addr+usable < addr {
		return 0, 0, fmt.Errorf("request for %d bytes: %w", size, ErrOutOfMemory)
	}
	a.next = addr + usable
	a.blocks[addr] = &block{usable: usable}
	return addr, usable, nil
}

// Free reclaims a chunk for reuse.
func (a *Arena) Free(addr uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[addr]
	if !ok || b.freed {
		return fmt.Errorf("%#x: %w", addr, ErrBadFree)
	}
	b.freed = true
	a.freelist[b.usable] = append(a.freelist[b.usable], addr)
	return nil
}

// UsableSize reports the reserved extent of a live chunk.
func (a *Arena) UsableSize(addr uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.blocks[addr]
	if !ok || b.freed {
		return 0, fmt.Errorf("%#x: %w", addr, ErrBadFree)
	}
	return b.usable, nil
}
