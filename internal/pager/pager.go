// Package pager implements the x86-64 4-level page-translation hierarchy
// (PML4 -> PDPT -> PD -> PT) entirely in kernel-resident static storage: a
// single Pager value owns every table arena and the physical-page bitmap,
// and is meant to be constructed once, at static-initialization time, and
// used for the lifetime of the kernel.
//
// Every operation that takes or returns an address does so through a
// (value, ok bool) pair rather than a sentinel address value — address 0
// is a legitimate low-memory address once init has run, so it cannot
// double as "none". ok == false on input means "no address given" (several
// operations treat that as "find one"); ok == false on output means the
// operation failed. The failure is never an exception: callers that care
// which of the kinds in this file fired can consult LastFault after a
// failed call; callers that only want the pass/fail contract need nothing
// more than the returned bool.
package pager

import (
	"unsafe"

	"deimos/internal/ioport"
	"deimos/internal/pagetable"
	"deimos/internal/util"
)

// Kind identifies why a pager operation failed. See spec.md section 7.
type Kind uint8

const (
	// None means no operation has failed yet.
	None Kind = iota
	// BadAlignment: an input address was not a multiple of PageSize.
	BadAlignment
	// NullInput: a required address argument was not supplied.
	NullInput
	// AlreadyMapped: Map was asked to map a virtual page already present.
	AlreadyMapped
	// NotMapped: an unmap/deallocate targeted a page that is not present.
	NotMapped
	// ZeroCount: a bulk operation was asked to act on zero pages.
	ZeroCount
	// NoVirtualSpace: a virtual-address search exhausted VmemMax.
	NoVirtualSpace
	// NoPhysicalSpace: a physical-address search found nothing free.
	NoPhysicalSpace
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case BadAlignment:
		return "bad alignment"
	case NullInput:
		return "null input"
	case AlreadyMapped:
		return "already mapped"
	case NotMapped:
		return "not mapped"
	case ZeroCount:
		return "zero count"
	case NoVirtualSpace:
		return "no virtual space"
	case NoPhysicalSpace:
		return "no physical space"
	default:
		return "unknown pager fault"
	}
}

// slotMap assigns a compacted row (0..cap) to each raw 0..511 index that
// is touched, first-come first-served, capped at cap distinct rows. The
// zero value is a fully unassigned map: slot[raw] == 0 means "unassigned",
// slot[raw] == r (r >= 1) means row r-1 — offset by one so a zeroed Pager
// needs no constructor to be a valid, empty table (spec.md 4.2).
//
// This exists because the per-level table counts (pagetable.NumPml4es,
// pagetable.NumPdptes) are clamped well below 512 for storage economy,
// but raw PML4/PDPT indices for a caller-chosen high virtual address
// (e.g. a higher-half kernel image) can be anywhere in 0..511. Indexing
// the backing arrays directly by the raw index, as original_source's
// pager.rs does, only works when every address in use happens to fall in
// row 0 — see DESIGN.md for the full writeup.
type slotMap struct {
	slot [512]uint16
	next uint16
}

func (s *slotMap) lookup(raw int) (int, bool) {
	v := s.slot[raw]
	if v == 0 {
		return 0, false
	}
	return int(v - 1), true
}

func (s *slotMap) assign(raw, cap int) (int, bool) {
	if v := s.slot[raw]; v != 0 {
		return int(v - 1), true
	}
	if int(s.next) >= cap {
		return 0, false
	}
	row := s.next
	s.slot[raw] = row + 1
	s.next++
	return int(row), true
}

// Pager holds the entire page-translation hierarchy and the physical-page
// bitmap. The zero value is ready to use: init populates the identity
// region, and all other operations are valid (if mostly no-ops) even
// before init runs.
type Pager struct {
	pml4 [512]pagetable.Pa
	pdpt [pagetable.NumPml4es][512]pagetable.Pa
	pd   [pagetable.NumPml4es][pagetable.NumPdptes][512]pagetable.Pa
	pt   [pagetable.NumPml4es][pagetable.NumPdptes][pagetable.NumPdes][512]pagetable.Pa

	physMap [pagetable.PhysMapWords]uint64

	pml4Row slotMap
	pdptRow [pagetable.NumPml4es]slotMap

	lastPhys pagetable.Pa
	havePhys bool
	lastVirt pagetable.Va
	haveVirt bool

	lastFault Kind
}

// New returns a zeroed Pager, ready for Init. No runtime allocation or I/O
// occurs; the returned value may be placed in static storage.
func New() *Pager {
	return &Pager{}
}

// LastFault reports the Kind of the most recent failed operation, or None
// if every operation so far has succeeded. It never affects control flow
// inside the package; it exists purely so callers and diagnostics code can
// report *why* an "empty" result came back.
func (p *Pager) LastFault() Kind {
	return p.lastFault
}

func (p *Pager) fail(k Kind) {
	p.lastFault = k
}

func addrOf[T any](v *T) pagetable.Pa {
	return pagetable.Pa(uintptr(unsafe.Pointer(v)))
}

func aligned(a uintptr) bool {
	return util.Aligned(a, pagetable.PageSize)
}

// Init establishes the identity mapping for the low IdentityLimit (16 MiB)
// of physical memory: pml4[0] -> pdpt[0] -> pd[0][0..8) -> pt[*], each pt
// leaf pointing at the physical frame matching its own virtual address.
// phys_map is not touched for this region; is_physically_allocated treats
// everything below IdentityLimit as implicitly allocated (spec.md
// invariant 2).
func (p *Pager) Init() {
	pml4Row, _ := p.pml4Row.assign(0, pagetable.NumPml4es)
	pdptRow, _ := p.pdptRow[pml4Row].assign(0, pagetable.NumPdptes)

	p.pml4[0] = pagetable.WithFrame(addrOf(&p.pdpt[pml4Row]))
	p.pdpt[pml4Row][0] = pagetable.WithFrame(addrOf(&p.pd[pml4Row][pdptRow]))

	const pds = pagetable.IdentityLimit / pagetable.PtSize
	for i := 0; i < pds; i++ {
		p.pd[pml4Row][pdptRow][i] = pagetable.WithFrame(addrOf(&p.pt[pml4Row][pdptRow][i]))
		for j := 0; j < 512; j++ {
			frame := pagetable.Pa(i*pagetable.PtSize + j*pagetable.PageSize)
			p.pt[pml4Row][pdptRow][i][j] = pagetable.WithFrame(frame)
		}
	}
}

// IsVirtuallyAllocated reports whether v is currently mapped. A v with
// ok == false (no address given) is considered already taken, so callers
// that pass through an optional address get the short-circuit spec.md 4.4
// describes.
func (p *Pager) IsVirtuallyAllocated(v pagetable.Va, ok bool) bool {
	if !ok {
		return true
	}
	idx := pagetable.Decompose(v)

	if !pagetable.Present(p.pml4[idx.Pml4]) {
		return false
	}
	pml4Row, rowOK := p.pml4Row.lookup(idx.Pml4)
	if !rowOK {
		return false
	}
	if !pagetable.Present(p.pdpt[pml4Row][idx.Pdpt]) {
		return false
	}
	pdptRow, rowOK := p.pdptRow[pml4Row].lookup(idx.Pdpt)
	if !rowOK {
		return false
	}
	if !pagetable.Present(p.pd[pml4Row][pdptRow][idx.Pd]) {
		return false
	}
	return pagetable.Present(p.pt[pml4Row][pdptRow][idx.Pd][idx.Pt])
}

// IsPhysicallyAllocated reports whether the physical frame ph is in use. A
// ph with ok == false is considered already taken (same short-circuit as
// IsVirtuallyAllocated).
func (p *Pager) IsPhysicallyAllocated(ph pagetable.Pa, ok bool) bool {
	if !ok {
		return true
	}
	if p.havePhys && ph == p.lastPhys {
		return true
	}
	if ph < pagetable.IdentityLimit {
		return true
	}
	pageIdx := uint64(ph) / pagetable.PageSize
	word, bit := pageIdx/64, pageIdx%64
	if int(word) >= len(p.physMap) {
		return false
	}
	return p.physMap[word]&(1<<bit) != 0
}

// AsPhysAddr translates v to the physical address it is currently mapped
// to. Unlike original_source's as_phys_addr, which only checks the three
// parent levels, this also requires the PT leaf itself to be present —
// without that check, a virtual address whose leaf was cleared by
// UnmapVirt but whose parent tables remain linked would translate to a
// stale zero frame instead of failing. See DESIGN.md.
func (p *Pager) AsPhysAddr(v pagetable.Va, ok bool) (pagetable.Pa, bool) {
	if !ok {
		return 0, false
	}
	idx := pagetable.Decompose(v)

	if !pagetable.Present(p.pml4[idx.Pml4]) {
		return 0, false
	}
	pml4Row, rowOK := p.pml4Row.lookup(idx.Pml4)
	if !rowOK {
		return 0, false
	}
	if !pagetable.Present(p.pdpt[pml4Row][idx.Pdpt]) {
		return 0, false
	}
	pdptRow, rowOK := p.pdptRow[pml4Row].lookup(idx.Pdpt)
	if !rowOK {
		return 0, false
	}
	if !pagetable.Present(p.pd[pml4Row][pdptRow][idx.Pd]) {
		return 0, false
	}
	leaf := p.pt[pml4Row][pdptRow][idx.Pd][idx.Pt]
	if !pagetable.Present(leaf) {
		return 0, false
	}
	return pagetable.Frame(leaf) | pagetable.Pa(idx.Offset), true
}

func (p *Pager) markPhysAllocated(ph pagetable.Pa) {
	if ph < pagetable.IdentityLimit {
		return
	}
	pageIdx := uint64(ph) / pagetable.PageSize
	word, bit := pageIdx/64, pageIdx%64
	p.physMap[word] |= 1 << bit
}

func (p *Pager) clearPhysAllocated(ph pagetable.Pa) {
	if ph < pagetable.IdentityLimit {
		return
	}
	pageIdx := uint64(ph) / pagetable.PageSize
	word, bit := pageIdx/64, pageIdx%64
	p.physMap[word] &^= 1 << bit
}

// Map links phys to virt, creating any parent table entries that do not
// already exist. Both addresses must be non-empty and page-aligned, and
// virt must currently be unmapped.
func (p *Pager) Map(phys pagetable.Pa, physOK bool, virt pagetable.Va, virtOK bool) (pagetable.Va, bool) {
	if !physOK || !virtOK {
		p.fail(NullInput)
		return 0, false
	}
	if !aligned(uintptr(phys)) || !aligned(uintptr(virt)) {
		p.fail(BadAlignment)
		return 0, false
	}
	if p.IsVirtuallyAllocated(virt, true) {
		p.fail(AlreadyMapped)
		return 0, false
	}

	idx := pagetable.Decompose(virt)

	pml4Row, ok := p.pml4Row.assign(idx.Pml4, pagetable.NumPml4es)
	if !ok {
		p.fail(NoVirtualSpace)
		return 0, false
	}
	if !pagetable.Linked(p.pml4[idx.Pml4]) {
		p.pml4[idx.Pml4] = pagetable.WithFrame(addrOf(&p.pdpt[pml4Row]))
	}

	pdptRow, ok := p.pdptRow[pml4Row].assign(idx.Pdpt, pagetable.NumPdptes)
	if !ok {
		p.fail(NoVirtualSpace)
		return 0, false
	}
	if !pagetable.Linked(p.pdpt[pml4Row][idx.Pdpt]) {
		p.pdpt[pml4Row][idx.Pdpt] = pagetable.WithFrame(addrOf(&p.pd[pml4Row][pdptRow]))
	}

	if !pagetable.Linked(p.pd[pml4Row][pdptRow][idx.Pd]) {
		p.pd[pml4Row][pdptRow][idx.Pd] = pagetable.WithFrame(addrOf(&p.pt[pml4Row][pdptRow][idx.Pd]))
	}

	if !pagetable.Linked(p.pt[pml4Row][pdptRow][idx.Pd][idx.Pt]) {
		p.pt[pml4Row][pdptRow][idx.Pd][idx.Pt] = pagetable.WithFrame(phys)
	}

	p.markPhysAllocated(phys)
	return virt, true
}

// AllocatePage maps one page at virt, or at a page found by
// FindFreeVirtualPage when virtOK is false, to a freshly found physical
// frame. On success it returns the physical address, not the virtual one
// — the asymmetry with AllocateVirtContig/AllocatePhysContig (which
// return the virtual address) mirrors original_source's pager.rs and is
// preserved for contract fidelity; see DESIGN.md.
func (p *Pager) AllocatePage(virt pagetable.Va, virtOK bool) (pagetable.Pa, bool) {
	v := virt
	if !virtOK {
		fv, ok := p.FindFreeVirtualPage()
		if !ok {
			p.fail(NoVirtualSpace)
			return 0, false
		}
		v = fv
	} else {
		if !aligned(uintptr(virt)) {
			p.fail(BadAlignment)
			return 0, false
		}
		if p.IsVirtuallyAllocated(virt, true) {
			p.fail(AlreadyMapped)
			return 0, false
		}
	}

	phys, ok := p.FindFreePhysicalPage()
	if !ok {
		p.fail(NoPhysicalSpace)
		return 0, false
	}

	if _, ok := p.Map(phys, true, v, true); !ok {
		return 0, false
	}
	p.lastPhys, p.havePhys = phys, true
	p.lastVirt, p.haveVirt = v, true
	return phys, true
}

// AllocateVirtContig maps n virtually-contiguous pages, each backed by an
// independently chosen (not necessarily contiguous) physical frame.
func (p *Pager) AllocateVirtContig(virt pagetable.Va, virtOK bool, n int) (pagetable.Va, bool) {
	if n == 0 {
		p.fail(ZeroCount)
		return 0, false
	}

	v := virt
	if virtOK {
		if !aligned(uintptr(virt)) {
			p.fail(BadAlignment)
			return 0, false
		}
	} else {
		fv, ok := p.FindFreeContigVirt(n)
		if !ok {
			p.fail(NoVirtualSpace)
			return 0, false
		}
		v = fv
	}

	for i := 0; i < n; i++ {
		phys, ok := p.FindFreePhysicalPage()
		if !ok {
			p.fail(NoPhysicalSpace)
			return 0, false
		}
		if _, ok := p.Map(phys, true, v+pagetable.Va(i*pagetable.PageSize), true); !ok {
			return 0, false
		}
	}
	return v, true
}

// AllocatePhysContig maps n pages that are both virtually and physically
// contiguous, resolving either base address via the free-range search when
// not supplied. Partial mappings are not unwound on a mid-range failure,
// matching original_source's pager.rs; see DESIGN.md.
func (p *Pager) AllocatePhysContig(phys pagetable.Pa, physOK bool, virt pagetable.Va, virtOK bool, n int) (pagetable.Va, bool) {
	if n == 0 {
		p.fail(ZeroCount)
		return 0, false
	}

	ph := phys
	if physOK {
		if !aligned(uintptr(phys)) {
			p.fail(BadAlignment)
			return 0, false
		}
	} else {
		fp, ok := p.FindFreeContigPhys(n)
		if !ok {
			p.fail(NoPhysicalSpace)
			return 0, false
		}
		ph = fp
	}

	v := virt
	if virtOK {
		if !aligned(uintptr(virt)) {
			p.fail(BadAlignment)
			return 0, false
		}
	} else {
		fv, ok := p.FindFreeContigVirt(n)
		if !ok {
			p.fail(NoVirtualSpace)
			return 0, false
		}
		v = fv
	}

	if n == 1 {
		if _, ok := p.Map(ph, true, v, true); !ok {
			return 0, false
		}
		return v, true
	}

	for i := 0; i < n; i++ {
		off := pagetable.Pa(i * pagetable.PageSize)
		if _, ok := p.Map(ph+off, true, v+pagetable.Va(i*pagetable.PageSize), true); !ok {
			return 0, false
		}
	}
	return v, true
}

// UnmapVirt clears the PT leaf for v. It does not flush the TLB; callers
// that deallocate after Activate must do that themselves (spec.md 9).
func (p *Pager) UnmapVirt(v pagetable.Va) (pagetable.Va, bool) {
	if !aligned(uintptr(v)) {
		p.fail(BadAlignment)
		return 0, false
	}
	if !p.IsVirtuallyAllocated(v, true) {
		p.fail(NotMapped)
		return 0, false
	}
	idx := pagetable.Decompose(v)
	pml4Row, _ := p.pml4Row.lookup(idx.Pml4)
	pdptRow, _ := p.pdptRow[pml4Row].lookup(idx.Pdpt)
	p.pt[pml4Row][pdptRow][idx.Pd][idx.Pt] = 0
	return v, true
}

// UnmapPhys clears the bitmap entry for ph.
func (p *Pager) UnmapPhys(ph pagetable.Pa) (pagetable.Pa, bool) {
	if !aligned(uintptr(ph)) {
		p.fail(BadAlignment)
		return 0, false
	}
	if !p.IsPhysicallyAllocated(ph, true) {
		p.fail(NotMapped)
		return 0, false
	}
	p.clearPhysAllocated(ph)
	return ph, true
}

// DeallocatePage unmaps v both virtually and physically.
func (p *Pager) DeallocatePage(v pagetable.Va) (pagetable.Va, bool) {
	if !aligned(uintptr(v)) {
		p.fail(BadAlignment)
		return 0, false
	}
	if !p.IsVirtuallyAllocated(v, true) {
		p.fail(NotMapped)
		return 0, false
	}
	phys, ok := p.AsPhysAddr(v, true)
	if !ok {
		p.fail(NotMapped)
		return 0, false
	}
	if _, ok := p.UnmapVirt(v); !ok {
		return 0, false
	}
	if _, ok := p.UnmapPhys(phys); !ok {
		return 0, false
	}
	return v, true
}

// DeallocatePages deallocates n consecutive virtual pages starting at v,
// attempting all of them even if one fails, and reports success only if
// every page deallocated cleanly.
func (p *Pager) DeallocatePages(v pagetable.Va, n int) (pagetable.Va, bool) {
	ok := true
	for i := 0; i < n; i++ {
		if _, pageOK := p.DeallocatePage(v + pagetable.Va(i*pagetable.PageSize)); !pageOK {
			ok = false
		}
	}
	if !ok {
		return 0, false
	}
	return v, true
}

// FindFreeVirtualPage scans upward in PageSize steps from lastVirt (or
// IdentityLimit, if AllocatePage has not yet succeeded; Init, Map and the
// contiguous allocators do not move the cursor) for the first unmapped
// page below VmemMax.
func (p *Pager) FindFreeVirtualPage() (pagetable.Va, bool) {
	start := pagetable.Va(pagetable.IdentityLimit)
	if p.haveVirt {
		start = p.lastVirt
	}
	limit := pagetable.Va(pagetable.VmemMax - pagetable.PageSize)
	for addr := start; addr <= limit; addr += pagetable.PageSize {
		if !p.IsVirtuallyAllocated(addr, true) {
			return addr, true
		}
	}
	p.fail(NoVirtualSpace)
	return 0, false
}

// FindFreePhysicalPage is the physical analogue of FindFreeVirtualPage.
// It scans from lastPhys, not lastVirt — original_source's pager.rs reads
// last_mapped_virt_addr here to decide whether to start from IdentityLimit,
// which spec.md section 9 calls out as a bug; this implementation uses
// lastPhys as the corrected behavior.
func (p *Pager) FindFreePhysicalPage() (pagetable.Pa, bool) {
	start := pagetable.Pa(pagetable.IdentityLimit)
	if p.havePhys {
		start = p.lastPhys
	}
	limit := pagetable.Pa(pagetable.VmemMax - pagetable.PageSize)
	for addr := start; addr <= limit; addr += pagetable.PageSize {
		if !p.IsPhysicallyAllocated(addr, true) {
			return addr, true
		}
	}
	p.fail(NoPhysicalSpace)
	return 0, false
}

// FindFreeContigVirt finds n consecutive unmapped virtual pages, scanning
// windows upward from IdentityLimit.
func (p *Pager) FindFreeContigVirt(n int) (pagetable.Va, bool) {
	span := pagetable.Va(n * pagetable.PageSize)
	limit := pagetable.Va(pagetable.VmemMax)
	for addr := pagetable.Va(pagetable.IdentityLimit); addr+span <= limit; addr += pagetable.PageSize {
		free := true
		for i := 0; i < n; i++ {
			if p.IsVirtuallyAllocated(addr+pagetable.Va(i*pagetable.PageSize), true) {
				free = false
				break
			}
		}
		if free {
			return addr, true
		}
	}
	p.fail(NoVirtualSpace)
	return 0, false
}

// FindFreeContigPhys finds n consecutive free physical frames by scanning
// the bitmap one 64-bit word at a time; a run can only be found if it does
// not cross a word boundary, so n is limited to 64 (spec.md 4.10 notes
// this as an accepted limitation of the initial design rather than fixing
// it with a cross-word bit scan). The search starts at the word covering
// IdentityLimit rather than word 0: the low region's bits are never set in
// physMap (invariant 2), so scanning from word 0 would report identity-
// mapped, already-in-use frames as free. IdentityLimit is word-aligned
// (16MiB / PageSize is a multiple of 64), so the start index lands exactly
// on a word boundary.
func (p *Pager) FindFreeContigPhys(n int) (pagetable.Pa, bool) {
	if n <= 0 {
		p.fail(ZeroCount)
		return 0, false
	}
	if n > 64 {
		p.fail(NoPhysicalSpace)
		return 0, false
	}
	mask := uint64(1)<<uint(n) - 1
	if n == 64 {
		mask = ^uint64(0)
	}

	startWord := pagetable.IdentityLimit / pagetable.PageSize / 64
	for i := startWord; i < len(p.physMap); i++ {
		for j := 0; j <= 64-n; j++ {
			if (p.physMap[i]>>uint(j))&mask == 0 {
				return pagetable.Pa(i*64*pagetable.PageSize + j*pagetable.PageSize), true
			}
		}
	}
	p.fail(NoPhysicalSpace)
	return 0, false
}

// Activate loads CR3 with the physical address of pml4. The caller must
// have already ensured the Pager's own storage is mapped (spec.md 4.11).
func (p *Pager) Activate() {
	ioport.LoadCR3(uintptr(addrOf(&p.pml4)))
}
