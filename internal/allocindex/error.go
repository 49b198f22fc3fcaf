package allocindex

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an address no live allocation covers. Expected and
// recoverable: the caller decides what an unindexed pointer means.
var ErrNotFound = errors.New("no live allocation covers address")

// IndexErrorKind enumerates invariant breaches the index refuses to repair.
type IndexErrorKind uint8

const (
	// ErrOverlap: a registration collided with a live record. The shim
	// missed a free, or something allocated behind its back.
	ErrOverlap IndexErrorKind = iota + 1
	// ErrUnknownAlloc: a free or bind for a start address with no live
	// record. A double free, or an allocation predating the index.
	ErrUnknownAlloc
)

// IndexError is a hard diagnostic: the caller's alloc/free wiring is wrong
// and silently patching the index would mis-bound live memory.
type IndexError struct {
	Kind     IndexErrorKind
	Addr     uint64
	Size     uint64
	Existing Record // populated for ErrOverlap
}

func (e *IndexError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ErrOverlap:
		return fmt.Sprintf("allocation [%#x,%#x) overlaps live record [%#x,%#x)",
			e.Addr, e.Addr+e.Size, e.Existing.Start, e.Existing.End())
	case ErrUnknownAlloc:
		return fmt.Sprintf("no live allocation starts at %#x", e.Addr)
	default:
		return fmt.Sprintf("index error kind=%d addr=%#x", e.Kind, e.Addr)
	}
}
