package pager

import (
	"testing"

	"deimos/internal/pagetable"
)

func newInited(t *testing.T) *Pager {
	t.Helper()
	p := New()
	p.Init()
	return p
}

// Scenario 1: identity mapping round-trips for addresses within
// IdentityLimit, and is empty at 32MiB, outside it.
func TestIdentityMapping(t *testing.T) {
	p := newInited(t)

	for _, addr := range []pagetable.Va{0x0, 0x100000, 0xFFF000} {
		got, ok := p.AsPhysAddr(addr, true)
		if !ok {
			t.Fatalf("AsPhysAddr(%#x) not ok", uintptr(addr))
		}
		if got != pagetable.Pa(addr) {
			t.Errorf("AsPhysAddr(%#x) = %#x, want %#x", uintptr(addr), uintptr(got), uintptr(addr))
		}
		if !p.IsVirtuallyAllocated(addr, true) {
			t.Errorf("IsVirtuallyAllocated(%#x) = false, want true", uintptr(addr))
		}
	}

	if _, ok := p.AsPhysAddr(0x02000000, true); ok {
		t.Error("AsPhysAddr(32MiB) should be empty, identity region stops at 16MiB")
	}
}

// Scenario 2: explicit Map of an out-of-identity-region pair round-trips
// and marks the physical frame allocated.
func TestMapExplicit(t *testing.T) {
	p := newInited(t)

	phys, virt := pagetable.Pa(0x20000000), pagetable.Va(0x40000000)
	got, ok := p.Map(phys, true, virt, true)
	if !ok || got != virt {
		t.Fatalf("Map(%#x, %#x) = (%#x, %v), want (%#x, true)", uintptr(phys), uintptr(virt), uintptr(got), ok, uintptr(virt))
	}

	back, ok := p.AsPhysAddr(virt, true)
	if !ok || back != phys {
		t.Fatalf("AsPhysAddr(%#x) = (%#x, %v), want (%#x, true)", uintptr(virt), uintptr(back), ok, uintptr(phys))
	}
	if !p.IsPhysicallyAllocated(phys, true) {
		t.Error("IsPhysicallyAllocated should be true after Map")
	}
}

// Scenario 3: mapping a higher-half kernel image, spanning several
// pages, lands in a distinct PML4 row from the identity region and from
// scenario 2's mapping, and each page translates correctly.
func TestMapHigherHalfRange(t *testing.T) {
	p := newInited(t)

	const n = 16
	phys := pagetable.Pa(0x200000)
	virt := pagetable.Va(0xFFFFFFFF80000000)

	got, ok := p.AllocatePhysContig(phys, true, virt, true, n)
	if !ok || got != virt {
		t.Fatalf("AllocatePhysContig = (%#x, %v), want (%#x, true)", uintptr(got), ok, uintptr(virt))
	}

	for i := 0; i < n; i++ {
		v := virt + pagetable.Va(i*pagetable.PageSize)
		wantPh := phys + pagetable.Pa(i*pagetable.PageSize)
		gotPh, ok := p.AsPhysAddr(v, true)
		if !ok || gotPh != wantPh {
			t.Errorf("AsPhysAddr(%#x) = (%#x, %v), want (%#x, true)", uintptr(v), uintptr(gotPh), ok, uintptr(wantPh))
		}
	}
}

// Scenario 4: misaligned addresses are rejected with BadAlignment and no
// side effect.
func TestMapRejectsMisalignment(t *testing.T) {
	p := newInited(t)

	if _, ok := p.Map(0x1001, true, 0x40000000, true); ok {
		t.Fatal("Map with misaligned phys should fail")
	}
	if got := p.LastFault(); got != BadAlignment {
		t.Errorf("LastFault() = %v, want BadAlignment", got)
	}

	if _, ok := p.Map(0x20000000, true, 0x40000001, true); ok {
		t.Fatal("Map with misaligned virt should fail")
	}
	if got := p.LastFault(); got != BadAlignment {
		t.Errorf("LastFault() = %v, want BadAlignment", got)
	}
}

// Scenario 5: mapping an already-mapped virtual address is rejected.
func TestMapRejectsDoubleMap(t *testing.T) {
	p := newInited(t)

	virt := pagetable.Va(0x40000000)
	if _, ok := p.Map(0x20000000, true, virt, true); !ok {
		t.Fatal("first Map should succeed")
	}
	if _, ok := p.Map(0x21000000, true, virt, true); ok {
		t.Fatal("second Map of the same virt should fail")
	}
	if got := p.LastFault(); got != AlreadyMapped {
		t.Errorf("LastFault() = %v, want AlreadyMapped", got)
	}
}

// Scenario 6: deallocate round-trips -- the page becomes unmapped and its
// physical frame free, and a fresh allocation can reuse the range.
func TestDeallocateRoundTrip(t *testing.T) {
	p := newInited(t)

	virt := pagetable.Va(0x40000000)
	phys, ok := p.Map(0x20000000, true, virt, true)
	_ = phys
	if !ok {
		t.Fatal("Map should succeed")
	}

	if _, ok := p.DeallocatePage(virt); !ok {
		t.Fatal("DeallocatePage should succeed")
	}
	if p.IsVirtuallyAllocated(virt, true) {
		t.Error("page should be unmapped after DeallocatePage")
	}
	if p.IsPhysicallyAllocated(0x20000000, true) {
		t.Error("frame should be free after DeallocatePage")
	}

	if _, ok := p.Map(0x20000000, true, virt, true); !ok {
		t.Error("Map should succeed again after deallocation")
	}
}

// P1: every present entry chain from a given address decomposes to
// consistent indices (round trip through Decompose matches the pager's
// own internal walk, exercised indirectly through AsPhysAddr above).

// P2: frames below IdentityLimit are always considered allocated, and
// never appear in the bitmap.
func TestIdentityRegionAlwaysAllocated(t *testing.T) {
	p := newInited(t)
	if !p.IsPhysicallyAllocated(0, true) {
		t.Error("frame 0 should be considered allocated")
	}
	if !p.IsPhysicallyAllocated(pagetable.IdentityLimit-pagetable.PageSize, true) {
		t.Error("last identity frame should be considered allocated")
	}
}

// P3: an empty (ok == false) address is always reported as already
// allocated, matching the optional-address short-circuit.
func TestEmptyAddressIsAllocated(t *testing.T) {
	p := newInited(t)
	if !p.IsVirtuallyAllocated(0, false) {
		t.Error("empty virtual address should report allocated")
	}
	if !p.IsPhysicallyAllocated(0, false) {
		t.Error("empty physical address should report allocated")
	}
}

// P4: AsPhysAddr fails once a page has been unmapped, even though its
// parent tables remain linked.
func TestAsPhysAddrFailsAfterUnmap(t *testing.T) {
	p := newInited(t)
	virt := pagetable.Va(0x40000000)
	if _, ok := p.Map(0x20000000, true, virt, true); !ok {
		t.Fatal("Map should succeed")
	}
	if _, ok := p.UnmapVirt(virt); !ok {
		t.Fatal("UnmapVirt should succeed")
	}
	if _, ok := p.AsPhysAddr(virt, true); ok {
		t.Error("AsPhysAddr should fail once the leaf has been cleared")
	}
}

// P5: AllocatePage finds distinct pages on successive calls.
func TestAllocatePageFindsDistinctPages(t *testing.T) {
	p := newInited(t)
	seen := map[pagetable.Pa]bool{}
	for i := 0; i < 4; i++ {
		ph, ok := p.AllocatePage(0, false)
		if !ok {
			t.Fatalf("AllocatePage #%d failed", i)
		}
		if seen[ph] {
			t.Fatalf("AllocatePage returned frame %#x twice", uintptr(ph))
		}
		seen[ph] = true
	}
}

// P6: a zero-count bulk request fails with ZeroCount and does not touch
// pager state.
func TestZeroCountRejected(t *testing.T) {
	p := newInited(t)
	if _, ok := p.AllocateVirtContig(0, false, 0); ok {
		t.Fatal("AllocateVirtContig(n=0) should fail")
	}
	if got := p.LastFault(); got != ZeroCount {
		t.Errorf("LastFault() = %v, want ZeroCount", got)
	}
}

func TestFindFreeContigPhysSkipsIdentityRegion(t *testing.T) {
	p := newInited(t)
	ph, ok := p.FindFreeContigPhys(8)
	if !ok {
		t.Fatal("FindFreeContigPhys should find a free run")
	}
	if ph < pagetable.IdentityLimit {
		t.Errorf("FindFreeContigPhys returned %#x, inside the identity region", uintptr(ph))
	}
}

// Activate is not exercised here: it issues a privileged CR3 load that
// faults outside ring 0, the same reason the teacher repository has no
// tests touching ioport-level code.
