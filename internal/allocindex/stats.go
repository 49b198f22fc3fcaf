package allocindex

import "sync/atomic"

// Stats holds the index's counters. Counters are atomic so the hot paths
// never take an extra lock to account for themselves.
type Stats struct {
	allocs     atomic.Uint64
	frees      atomic.Uint64
	hits       atomic.Uint64
	misses     atomic.Uint64
	binds      atomic.Uint64
	violations atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Allocs     uint64
	Frees      uint64
	Hits       uint64 // lookups resolved to a live record
	Misses     uint64 // lookups over unindexed addresses
	Binds      uint64
	Violations uint64 // overlap / unknown-allocation breaches observed
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Allocs:     s.allocs.Load(),
		Frees:      s.frees.Load(),
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		Binds:      s.binds.Load(),
		Violations: s.violations.Load(),
	}
}
