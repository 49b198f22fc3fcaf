package canon

import "fmt"

// ConflictError reports two modules carrying structurally different
// definitions under the same descriptor symbol. It is a hard diagnostic:
// the build produced inconsistent typetables, and unifying the instances
// would silently misinterpret memory.
type ConflictError struct {
	Symbol  string
	ModuleA string
	ModuleB string
	Reason  error
}

func (e *ConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("type identity conflict for %s: %s vs %s: %v",
		e.Symbol, e.ModuleA, e.ModuleB, e.Reason)
}

func (e *ConflictError) Unwrap() error { return e.Reason }

// StaleError reports use of a canonical descriptor whose owning module has
// been unloaded. The pointer must not be dereferenced.
type StaleError struct {
	Symbol     string
	Module     string
	Generation uint64
}

func (e *StaleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("stale descriptor %s: owning module %s (generation %d) unloaded",
		e.Symbol, e.Module, e.Generation)
}
