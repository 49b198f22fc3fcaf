package allocindex

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"memscope/internal/uniqtype"
)

func TestInteriorPointerRecovery(t *testing.T) {
	ix := New(0)
	const start, size = uint64(0x10000), uint64(800)
	if err := ix.OnAlloc(start, size, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	for _, addr := range []uint64{start, start + 4, start + size/2, start + size - 1} {
		r, err := ix.Lookup(addr)
		if err != nil {
			t.Fatalf("lookup %#x: %v", addr, err)
		}
		if r.Start != start || r.Size != size {
			t.Fatalf("lookup %#x returned [%#x,+%d)", addr, r.Start, r.Size)
		}
	}
	for _, addr := range []uint64{start - 1, start + size} {
		if _, err := ix.Lookup(addr); !errors.Is(err, ErrNotFound) {
			t.Fatalf("lookup %#x: expected NotFound, got %v", addr, err)
		}
	}
}

func TestOverlapIsViolation(t *testing.T) {
	ix := New(0)
	if err := ix.OnAlloc(0x1000, 0x100, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	cases := []struct{ start, size uint64 }{
		{0x1080, 0x100}, // starts inside
		{0x0f80, 0x100}, // ends inside
		{0x0f00, 0x400}, // covers entirely
		{0x1000, 0x100}, // exact duplicate
	}
	for _, tc := range cases {
		err := ix.OnAlloc(tc.start, tc.size, nil)
		var ie *IndexError
		if !errors.As(err, &ie) || ie.Kind != ErrOverlap {
			t.Fatalf("alloc [%#x,+%d): expected overlap violation, got %v", tc.start, tc.size, err)
		}
		if ie.Existing.Start != 0x1000 {
			t.Fatalf("violation names wrong record: %+v", ie)
		}
	}
	// The original record must be untouched by the rejected registrations.
	r, err := ix.Lookup(0x1000)
	if err != nil || r.Size != 0x100 {
		t.Fatalf("existing record damaged: %+v %v", r, err)
	}
	// Adjacent on both sides is fine.
	if err := ix.OnAlloc(0x0f00, 0x100, nil); err != nil {
		t.Fatalf("adjacent-below rejected: %v", err)
	}
	if err := ix.OnAlloc(0x1100, 0x100, nil); err != nil {
		t.Fatalf("adjacent-above rejected: %v", err)
	}
}

func TestFreeUnknownStart(t *testing.T) {
	ix := New(0)
	if err := ix.OnAlloc(0x2000, 64, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	// Interior pointers are not valid free targets.
	var ie *IndexError
	if err := ix.OnFree(0x2008); !errors.As(err, &ie) || ie.Kind != ErrUnknownAlloc {
		t.Fatalf("interior free: expected unknown-allocation, got %v", err)
	}
	if err := ix.OnFree(0x2000); err != nil {
		t.Fatalf("free: %v", err)
	}
	if err := ix.OnFree(0x2000); !errors.As(err, &ie) || ie.Kind != ErrUnknownAlloc {
		t.Fatalf("double free: expected unknown-allocation, got %v", err)
	}
}

func TestFreedRangeNoLongerResolves(t *testing.T) {
	ix := New(0)
	if err := ix.OnAlloc(0x3000, 128, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := ix.OnFree(0x3000); err != nil {
		t.Fatalf("free: %v", err)
	}
	if _, err := ix.Lookup(0x3040); !errors.Is(err, ErrNotFound) {
		t.Fatalf("freed range still resolves: %v", err)
	}
	// Reuse of the range must come up under fresh metadata, never the old.
	i8 := uniqtype.MakeSigned(8)
	if err := ix.OnAlloc(0x3000, 64, i8); err != nil {
		t.Fatalf("realloc of freed range rejected: %v", err)
	}
	r, err := ix.Lookup(0x3000)
	if err != nil || r.Size != 64 || r.Type != i8 {
		t.Fatalf("reused range reported stale metadata: %+v %v", r, err)
	}
}

func TestLateBindingChangesTypeOnly(t *testing.T) {
	ix := New(0)
	if err := ix.OnAlloc(0x4000, 800, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	arr := uniqtype.MakeArray(uniqtype.MakeSigned(32), 200)
	if err := ix.BindType(0x4000, arr); err != nil {
		t.Fatalf("bind: %v", err)
	}
	r, err := ix.Lookup(0x4000 + 4)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if r.Start != 0x4000 || r.Size != 800 {
		t.Fatalf("bind changed extent: %+v", r)
	}
	if r.Type != arr {
		t.Fatalf("bind did not take")
	}
	var ie *IndexError
	if err := ix.BindType(0x9999, arr); !errors.As(err, &ie) || ie.Kind != ErrUnknownAlloc {
		t.Fatalf("bind on unknown start: %v", err)
	}
}

// The hello_heap fixture: malloc 200 ints, recover the allocation through
// an interior pointer, type it late, free it.
func TestMallocRecoverFreeScenario(t *testing.T) {
	ix := New(0)
	const a = uint64(0x60000000)
	if err := ix.OnAlloc(a, 200*4, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	r, err := ix.Lookup(a + 4) // second element
	if err != nil {
		t.Fatalf("lookup second element: %v", err)
	}
	if r.Start != a || r.Size != 800 || r.Type != nil {
		t.Fatalf("pre-bind record wrong: %+v", r)
	}
	arr := uniqtype.MakeArray(uniqtype.MakeSigned(32), 200)
	if err := ix.BindType(a, arr); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if r, _ = ix.Lookup(a + 4); r.Type != arr {
		t.Fatalf("post-bind lookup did not see the array type")
	}
	if err := ix.OnFree(a); err != nil {
		t.Fatalf("free: %v", err)
	}
	if _, err := ix.Lookup(a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("freed start still resolves: %v", err)
	}
}

func TestWalkAscending(t *testing.T) {
	ix := New(0)
	for _, s := range []uint64{0x5000, 0x1000, 0x3000} {
		if err := ix.OnAlloc(s, 16, nil); err != nil {
			t.Fatalf("alloc %#x: %v", s, err)
		}
	}
	var got []uint64
	ix.Walk(func(r Record) bool {
		got = append(got, r.Start)
		return true
	})
	want := []uint64{0x1000, 0x3000, 0x5000}
	if len(got) != len(want) {
		t.Fatalf("walked %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("walk order %v, want %v", got, want)
		}
	}
}

func TestStatsCounters(t *testing.T) {
	ix := New(0)
	if err := ix.OnAlloc(0x1000, 32, nil); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if _, err := ix.Lookup(0x1010); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := ix.Lookup(0x9000); err == nil {
		t.Fatalf("expected miss")
	}
	_ = ix.OnFree(0x2000) // unknown: counted as violation
	s := ix.Stats()
	if s.Allocs != 1 || s.Hits != 1 || s.Misses != 1 || s.Violations != 1 {
		t.Fatalf("unexpected counters: %+v", s)
	}
}

func TestConcurrentChurnKeepsStructure(t *testing.T) {
	ix := New(0)
	const lanes = 8
	const perLane = 200
	var wg sync.WaitGroup
	for lane := 0; lane < lanes; lane++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each lane owns a disjoint address stripe, so every operation
			// is individually valid no matter the interleaving.
			base := uint64(lane+1) << 24
			rng := rand.New(rand.NewSource(int64(lane)))
			for i := 0; i < perLane; i++ {
				start := base + uint64(i)*64
				if err := ix.OnAlloc(start, 48, nil); err != nil {
					t.Errorf("alloc: %v", err)
					return
				}
				if _, err := ix.Lookup(start + uint64(rng.Intn(48))); err != nil {
					t.Errorf("lookup: %v", err)
					return
				}
				if i%2 == 0 {
					if err := ix.OnFree(start); err != nil {
						t.Errorf("free: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	if got, want := ix.Len(), lanes*perLane/2; got != want {
		t.Fatalf("live records %d, want %d", got, want)
	}
	// No two live records cover the same byte.
	var prev Record
	first := true
	ix.Walk(func(r Record) bool {
		if !first && r.Start < prev.End() {
			t.Errorf("records overlap: [%#x,%#x) then [%#x,%#x)",
				prev.Start, prev.End(), r.Start, r.End())
			return false
		}
		prev, first = r, false
		return true
	})
}
