// Package replay drives a recorded allocation trace through the shim and
// the allocation index, standing in for an instrumented host program. Trace
// events name allocations by caller-chosen tags rather than raw addresses,
// since addresses are assigned by the allocator at replay time.
package replay

import (
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"memscope/internal/allocindex"
	"memscope/internal/shim"
	"memscope/internal/uniqtype"
)

// Current schema version - increment when the Trace format changes.
const schemaVersion uint16 = 1

// ErrSchema reports a trace recorded under a different schema version.
var ErrSchema = errors.New("trace schema version mismatch")

// Op enumerates trace event kinds.
type Op string

const (
	OpMalloc Op = "malloc"
	OpFree   Op = "free"
	OpBind   Op = "bind"
	OpQuery  Op = "query"
)

// Event is one recorded allocator or query action.
type Event struct {
	Op     Op
	Tag    uint64 // names the allocation within the trace
	Size   uint64 // malloc only
	Offset uint64 // query only: byte offset from the allocation start
	Type   string // bind / typed malloc: descriptor symbol
}

// Trace is a replayable event sequence.
type Trace struct {
	Schema uint16
	Events []Event
}

// NewTrace wraps events under the current schema.
func NewTrace(events []Event) *Trace {
	return &Trace{Schema: schemaVersion, Events: events}
}

// Encode writes the trace as msgpack.
func Encode(w io.Writer, tr *Trace) error {
	if tr == nil {
		return fmt.Errorf("nil trace")
	}
	return msgpack.NewEncoder(w).Encode(tr)
}

// Decode reads a trace and rejects foreign schemas.
func Decode(r io.Reader) (*Trace, error) {
	var tr Trace
	if err := msgpack.NewDecoder(r).Decode(&tr); err != nil {
		return nil, fmt.Errorf("trace decode: %w", err)
	}
	if tr.Schema != schemaVersion {
		return nil, fmt.Errorf("trace has schema %d, want %d: %w", tr.Schema, schemaVersion, ErrSchema)
	}
	return &tr, nil
}

// QueryOutcome is the result of one query event.
type QueryOutcome struct {
	Tag    uint64
	Addr   uint64
	Record allocindex.Record
	Err    error
}

// Result summarizes one replayed trace.
type Result struct {
	Stats   allocindex.StatsSnapshot
	Live    []allocindex.Record
	Queries []QueryOutcome
}

// ResolveFunc maps a descriptor symbol from the trace to a canonical
// descriptor. nil means every typed event falls back to an opaque
// descriptor carrying the symbol.
type ResolveFunc func(sym string) (*uniqtype.Descriptor, error)

// Run replays the trace through the shim. Invariant breaches raised by the
// index abort the replay: a broken trace is a broken harness, and
// continuing would report nonsense counters.
func Run(tr *Trace, s *shim.Shim, resolve ResolveFunc) (*Result, error) {
	if tr == nil {
		return nil, fmt.Errorf("nil trace")
	}
	addrOf := make(map[uint64]uint64, 64)
	res := &Result{}

	lookupType := func(sym string) (*uniqtype.Descriptor, error) {
		if sym == "" {
			return nil, nil
		}
		if resolve == nil {
			return uniqtype.MakeOpaque(sym), nil
		}
		return resolve(sym)
	}

	for i, ev := range tr.Events {
		switch ev.Op {
		case OpMalloc:
			typ, err := lookupType(ev.Type)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			addr, err := s.MallocTyped(ev.Size, typ)
			if err != nil {
				return nil, fmt.Errorf("event %d: malloc %d: %w", i, ev.Size, err)
			}
			addrOf[ev.Tag] = addr
		case OpFree:
			addr, ok := addrOf[ev.Tag]
			if !ok {
				return nil, fmt.Errorf("event %d: free of unknown tag %d", i, ev.Tag)
			}
			if err := s.Free(addr); err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			delete(addrOf, ev.Tag)
		case OpBind:
			addr, ok := addrOf[ev.Tag]
			if !ok {
				return nil, fmt.Errorf("event %d: bind on unknown tag %d", i, ev.Tag)
			}
			typ, err := lookupType(ev.Type)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			if err := s.BindType(addr, typ); err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
		case OpQuery:
			addr, ok := addrOf[ev.Tag]
			if !ok {
				return nil, fmt.Errorf("event %d: query on unknown tag %d", i, ev.Tag)
			}
			target := addr + ev.Offset
			rec, err := s.Index().Lookup(target)
			res.Queries = append(res.Queries, QueryOutcome{
				Tag:    ev.Tag,
				Addr:   target,
				Record: rec,
				Err:    err,
			})
		default:
			return nil, fmt.Errorf("event %d: unknown op %q", i, ev.Op)
		}
	}

	res.Stats = s.Index().Stats()
	s.Index().Walk(func(r allocindex.Record) bool {
		res.Live = append(res.Live, r)
		return true
	})
	return res, nil
}
