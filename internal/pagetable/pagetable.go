// Package pagetable defines the constants, entry encoding and index
// arithmetic shared by every level of the x86-64 4-level page-translation
// hierarchy (PML4, PDPT, PD, PT). It holds no mutable state of its own;
// internal/pager owns the arenas built from these types.
package pagetable

// Pa is a physical address.
type Pa uintptr

// Va is a virtual address.
type Va uintptr

const (
	// PageSize is the size in bytes of a single 4 KiB page/frame.
	PageSize = 4096

	// PtSize is the span in bytes covered by one page table (512 PTEs).
	PtSize = 512 * PageSize

	// VmemMax is the maximum virtual address this pager is prepared to
	// manage. 8 GiB covers a generously sized early kernel heap/stack
	// without the per-level table arenas becoming unreasonably large.
	VmemMax = 8 * 1024 * 1024 * 1024

	// MaxPages is the number of PageSize-sized pages in [0, VmemMax).
	MaxPages = VmemMax / PageSize

	// IdentityLimit is the size of the low-memory region init() identity
	// maps: 8 PDs worth, i.e. 8*2MiB = 16MiB.
	IdentityLimit = 16 * 1024 * 1024

	// PhysMapWords is the number of 64-bit words in the physical bitmap.
	PhysMapWords = MaxPages / 64
)

// Derived table counts. spec.md defines these as
// ceil(VmemMax / tableSpan) clamped to [1, 512]; Go array dimensions must
// be compile-time constants, so the formula is evaluated here by hand for
// the fixed VmemMax above rather than with a runtime clampTableCount/
// ceilDiv helper (checkDerivedCounts, in pagetable_test.go, recomputes the
// formula at test time and fails if these drift out of sync with VmemMax).
//
// NumPml4es departs from a literal ceil(VmemMax/512GiB) = 1: this pager
// backs PML4 rows by assignment, not by raw PML4 index (see pager.slotMap),
// because the one caller-specified high address this contract requires —
// the kernel image's own higher-half virtual base (spec.md 6, external
// interface step 3; spec.md 8 scenario 3's 0xFFFFFFFF80000000) — falls in
// a different raw PML4 slot than the low identity region and every
// dynamically found address below VmemMax. Two rows is the minimum that
// lets both coexist: row 0 for [0, VmemMax), row 1 for the kernel's own
// high region. See DESIGN.md for the full writeup of this decision.
const (
	// NumPml4es is the number of backed PML4 rows: one for [0, VmemMax)
	// and one reserved for a single caller-specified high region.
	NumPml4es = 2
	// NumPdptes is ceil(VmemMax / 1GiB) clamped to [1, 512]: 8GiB/1GiB = 8.
	NumPdptes = 8
	// NumPdes is ceil(VmemMax / 2MiB) clamped to [1, 512]: 8GiB/2MiB = 4096,
	// clamped down to 512.
	NumPdes = 512
)

// Entry flag bits. Only present+writable is ever asserted by this pager;
// spec.md's Non-goals exclude NX, user-accessible and write-through.
const (
	FlagPresent Pa = 1 << 0
	FlagWrite   Pa = 1 << 1

	// FlagsLeaf is the flag pattern written on every link and leaf entry
	// this pager creates.
	FlagsLeaf = FlagPresent | FlagWrite

	// addrMask isolates the frame-address bits [47:12] of an entry.
	addrMask Pa = 0x0000fffffffff000

	offsetMask Pa = 0xfff
)

// Present reports whether e has the present bit set.
func Present(e Pa) bool {
	return e&FlagPresent != 0
}

// Linked reports whether e already carries the present+writable pattern
// this pager always writes, i.e. whether a parent-entry rewrite can be
// skipped as a fast-path (see spec.md 4.5's tie-break policy).
func Linked(e Pa) bool {
	return e&0x3 == 0x3
}

// Frame extracts the physical frame address encoded in a page-table entry.
func Frame(e Pa) Pa {
	return e & addrMask
}

// WithFrame returns a present+writable entry pointing at frame.
func WithFrame(frame Pa) Pa {
	return (frame &^ offsetMask) | FlagsLeaf
}

// Indices is the four-level index decomposition of a virtual address, plus
// its page offset. Grounded in biscuit's mem/dmap.go:pgbits, which returns
// the same four values positionally; wrapped in a struct here for
// readability at call sites.
type Indices struct {
	Pml4   int
	Pdpt   int
	Pd     int
	Pt     int
	Offset int
}

// Decompose splits a virtual address into its page-table indices, exactly
// as spec.md section 3 defines: bits [47:39], [38:30], [29:21], [20:12]
// and [11:0] respectively.
func Decompose(v Va) Indices {
	u := uintptr(v)
	return Indices{
		Pml4:   int(u>>39) & 0x1ff,
		Pdpt:   int(u>>30) & 0x1ff,
		Pd:     int(u>>21) & 0x1ff,
		Pt:     int(u>>12) & 0x1ff,
		Offset: int(u & 0xfff),
	}
}

// Compose is the inverse of Decompose restricted to the bits of a single
// level: it shifts idx into the position level occupies within a virtual
// address. level 3 is PML4, 2 is PDPT, 1 is PD, 0 is PT — matching
// biscuit's mem/dmap.go:shl/mkpg convention of counting levels from the
// page table upward.
func Compose(level, idx int) uintptr {
	shift := uint(12 + 9*level)
	return (uintptr(idx) & 0x1ff) << shift
}
