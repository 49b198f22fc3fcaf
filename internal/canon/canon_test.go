package canon

import (
	"errors"
	"sync"
	"testing"

	"memscope/internal/module"
	"memscope/internal/uniqtype"
)

func tableWith(descs ...*uniqtype.Descriptor) map[string]*uniqtype.Descriptor {
	t := make(map[string]*uniqtype.Descriptor, len(descs))
	for _, d := range descs {
		t[uniqtype.Symbol(d)] = d
	}
	return t
}

func loadedPair(t *testing.T, t1, t2 map[string]*uniqtype.Descriptor) (*module.Registry, *module.Module, *module.Module) {
	t.Helper()
	reg := module.NewRegistry()
	m1 := module.New("lib1.so", 0x1000, 0x1000, t1)
	m2 := module.New("lib2.so", 0x2000, 0x1000, t2)
	if err := reg.Load(m1); err != nil {
		t.Fatalf("load m1: %v", err)
	}
	if err := reg.Load(m2); err != nil {
		t.Fatalf("load m2: %v", err)
	}
	return reg, m1, m2
}

func TestLinkerMergedLeafVerifies(t *testing.T) {
	// Scalars land in a shared section: both modules carry the same
	// instance, and canonicalization only confirms it.
	shared := uniqtype.MakeSigned(32)
	reg, m1, m2 := loadedPair(t, tableWith(shared), tableWith(shared))
	c := New(reg)

	a, err := c.Resolve(m1, "__uniqtype__int$32")
	if err != nil {
		t.Fatalf("resolve via m1: %v", err)
	}
	b, err := c.Resolve(m2, "__uniqtype__int$32")
	if err != nil {
		t.Fatalf("resolve via m2: %v", err)
	}
	if !Same(a, b) || a != shared {
		t.Fatalf("linker-merged leaf did not verify: %p vs %p", a, b)
	}
}

func TestCompositeMemberIsCanonicalLeaf(t *testing.T) {
	// lib2 defines struct s2 { int32 x; } whose member references the
	// shared scalar instance; resolving s2 and the scalar independently
	// must agree by pointer.
	shared := uniqtype.MakeSigned(32)
	s2 := uniqtype.MakeComposite("s2", 4, []uniqtype.Contained{{Offset: 0, Type: shared}})
	reg, m1, m2 := loadedPair(t, tableWith(shared), tableWith(shared, s2))
	c := New(reg)

	viaM1, err := c.Resolve(m1, "__uniqtype__int$32")
	if err != nil {
		t.Fatalf("resolve int via m1: %v", err)
	}
	gotS2, err := c.Resolve(m2, "__uniqtype__s2")
	if err != nil {
		t.Fatalf("resolve s2 via m2: %v", err)
	}
	if gotS2.Contained[0].Type != viaM1 {
		t.Fatalf("s2 member %p, canonical scalar %p", gotS2.Contained[0].Type, viaM1)
	}
}

func TestFirstResolvedWinsForwarding(t *testing.T) {
	// Composites are emitted per-module; the first-loaded module's
	// instance becomes canonical and later modules' lookups forward to it.
	mk := func() *uniqtype.Descriptor {
		return uniqtype.MakeComposite("s2", 4, []uniqtype.Contained{
			{Offset: 0, Type: uniqtype.MakeSigned(32)},
		})
	}
	local1, local2 := mk(), mk()
	reg, m1, m2 := loadedPair(t, tableWith(local1), tableWith(local2))
	c := New(reg)

	got2, err := c.Resolve(m2, "__uniqtype__s2")
	if err != nil {
		t.Fatalf("resolve via m2: %v", err)
	}
	got1, err := c.Resolve(m1, "__uniqtype__s2")
	if err != nil {
		t.Fatalf("resolve via m1: %v", err)
	}
	if got1 != got2 {
		t.Fatalf("canonicalization did not converge: %p vs %p", got1, got2)
	}
	if got1 != local1 {
		t.Fatalf("expected lib1.so (first loaded) to win, got %s's instance", c.ownerName(got1))
	}
}

func TestResolveStaysModuleScoped(t *testing.T) {
	only1 := uniqtype.MakeFloat(64)
	reg, _, m2 := loadedPair(t, tableWith(only1), tableWith())
	c := New(reg)
	// m2 never used float$64; resolving through m2 must not fall back to
	// the global view even though canonicalization could find it.
	if _, err := c.Resolve(m2, "__uniqtype__float$64"); !errors.Is(err, module.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := c.Canonicalize("__uniqtype__float$64"); err != nil {
		t.Fatalf("process-wide canonicalize should still succeed: %v", err)
	}
}

func TestConflictIsHardError(t *testing.T) {
	a := uniqtype.MakeComposite("s2", 4, []uniqtype.Contained{
		{Offset: 0, Type: uniqtype.MakeSigned(32)},
	})
	b := uniqtype.MakeComposite("s2", 8, []uniqtype.Contained{
		{Offset: 0, Type: uniqtype.MakeSigned(64)},
	})
	reg, _, _ := loadedPair(t, tableWith(a), tableWith(b))
	c := New(reg)

	_, err := c.Canonicalize("__uniqtype__s2")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ModuleA != "lib1.so" || conflict.ModuleB != "lib2.so" {
		t.Fatalf("conflict names wrong modules: %+v", conflict)
	}
	// Sticky: a second query reports the same diagnostic, no silent merge.
	if _, err := c.Canonicalize("__uniqtype__s2"); !errors.As(err, &conflict) {
		t.Fatalf("conflict not sticky: %v", err)
	}
}

func TestUnknownNameIsNotFound(t *testing.T) {
	reg, _, _ := loadedPair(t, tableWith(), tableWith())
	c := New(reg)
	if _, err := c.Canonicalize("__uniqtype__never"); !errors.Is(err, module.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUnloadPrunesExclusiveNames(t *testing.T) {
	only2 := uniqtype.MakeUnsigned(16)
	reg, _, _ := loadedPair(t, tableWith(), tableWith(only2))
	c := New(reg)

	got, err := c.Canonicalize("__uniqtype__uint$16")
	if err != nil || got != only2 {
		t.Fatalf("canonicalize: %v", err)
	}
	if err := reg.Unload("lib2.so"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if _, ok := c.Cached("__uniqtype__uint$16"); ok {
		t.Fatalf("cache kept a name owned exclusively by an unloaded module")
	}
	if _, err := c.Canonicalize("__uniqtype__uint$16"); !errors.Is(err, module.ErrNotFound) {
		t.Fatalf("expected NotFound after unload, got %v", err)
	}
	// The old pointer is now a use-after-unload hazard.
	var stale *StaleError
	if err := c.Live(got); !errors.As(err, &stale) {
		t.Fatalf("expected StaleError, got %v", err)
	}
}

func TestRecanonicalizeAfterOwnerUnload(t *testing.T) {
	mk := func() *uniqtype.Descriptor {
		return uniqtype.MakeComposite("pair", 8, []uniqtype.Contained{
			{Offset: 0, Type: uniqtype.MakeSigned(32)},
			{Offset: 4, Type: uniqtype.MakeSigned(32)},
		})
	}
	local1, local2 := mk(), mk()
	reg, _, _ := loadedPair(t, tableWith(local1), tableWith(local2))
	c := New(reg)

	first, err := c.Canonicalize("__uniqtype__pair")
	if err != nil || first != local1 {
		t.Fatalf("expected lib1.so's instance, got %v (%v)", first, err)
	}
	if err := reg.Unload("lib1.so"); err != nil {
		t.Fatalf("unload: %v", err)
	}
	second, err := c.Canonicalize("__uniqtype__pair")
	if err != nil {
		t.Fatalf("re-canonicalize: %v", err)
	}
	if second != local2 {
		t.Fatalf("surviving module's instance not promoted")
	}
	if err := c.Live(first); err == nil {
		t.Fatalf("old canonical pointer should be stale")
	}
	if err := c.Live(second); err != nil {
		t.Fatalf("new canonical pointer wrongly stale: %v", err)
	}
}

func TestConcurrentFirstResolutionConverges(t *testing.T) {
	mk := func() *uniqtype.Descriptor {
		return uniqtype.MakeComposite("s2", 4, []uniqtype.Contained{
			{Offset: 0, Type: uniqtype.MakeSigned(32)},
		})
	}
	reg, _, _ := loadedPair(t, tableWith(mk()), tableWith(mk()))
	c := New(reg)

	const workers = 16
	results := make([]*uniqtype.Descriptor, workers)
	var wg sync.WaitGroup
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			d, err := c.Canonicalize("__uniqtype__s2")
			if err != nil {
				t.Errorf("canonicalize: %v", err)
				return
			}
			results[i] = d
		}()
	}
	start.Done()
	wg.Wait()
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d got %p, worker 0 got %p", i, results[i], results[0])
		}
	}
}
