package bootproto

import (
	"testing"
	"unsafe"
)

// buildList lays out tags contiguously in a Go slice and patches each
// header's Next field to point at the next tag (or 0 to terminate),
// mimicking the flat layout the bootloader hands off.
func buildList(t *testing.T, tags ...any) unsafe.Pointer {
	t.Helper()
	// A small fixed backing array is enough for these tests' tag counts.
	var raw [4096]byte
	offset := uintptr(unsafe.Pointer(&raw[0]))

	type placed struct {
		addr uintptr
		size uintptr
	}
	var placements []placed
	cursor := offset

	for _, tag := range tags {
		switch v := tag.(type) {
		case *kernelBaseTag:
			*(*kernelBaseTag)(unsafe.Pointer(cursor)) = *v
			placements = append(placements, placed{cursor, unsafe.Sizeof(*v)})
		case *kernelPhysBaseTag:
			*(*kernelPhysBaseTag)(unsafe.Pointer(cursor)) = *v
			placements = append(placements, placed{cursor, unsafe.Sizeof(*v)})
		case *stackTag:
			*(*stackTag)(unsafe.Pointer(cursor)) = *v
			placements = append(placements, placed{cursor, unsafe.Sizeof(*v)})
		default:
			t.Fatalf("buildList: unsupported tag type %T", tag)
		}
		cursor += 64 // generous fixed stride, well clear of any tag's size
	}

	for i, pl := range placements {
		h := (*header)(unsafe.Pointer(pl.addr))
		if i+1 < len(placements) {
			h.Next = uint64(placements[i+1].addr)
		} else {
			h.Next = 0
		}
	}

	if len(placements) == 0 {
		var end header
		end.Kind = tagEnd
		*(*header)(unsafe.Pointer(offset)) = end
		return unsafe.Pointer(offset)
	}
	return unsafe.Pointer(placements[0].addr)
}

func TestParseMissingKernelBase(t *testing.T) {
	raw := buildList(t, &stackTag{header: header{Kind: tagStack}, Begin: 0x1000, End: 0x3000})
	if _, err := Parse(raw); err != ErrMissingKernelBase {
		t.Errorf("Parse() err = %v, want ErrMissingKernelBase", err)
	}
}

func TestParseMissingPhysBase(t *testing.T) {
	raw := buildList(t,
		&kernelBaseTag{header: header{Kind: tagKernelBase}, VirtBase: 0xFFFFFFFF80000000},
		&stackTag{header: header{Kind: tagStack}, Begin: 0x1000, End: 0x10000},
	)
	if _, err := Parse(raw); err != ErrMissingKernelBase {
		t.Errorf("Parse() err = %v, want ErrMissingKernelBase (phys base tag absent)", err)
	}
}

func TestParseMissingVirtBase(t *testing.T) {
	raw := buildList(t,
		&kernelPhysBaseTag{header: header{Kind: tagKernelPhysBase}, PhysBase: 0x200000},
		&stackTag{header: header{Kind: tagStack}, Begin: 0x1000, End: 0x10000},
	)
	if _, err := Parse(raw); err != ErrMissingKernelBase {
		t.Errorf("Parse() err = %v, want ErrMissingKernelBase (virt base tag absent)", err)
	}
}

func TestParseZeroKernelBase(t *testing.T) {
	raw := buildList(t,
		&kernelBaseTag{header: header{Kind: tagKernelBase}, VirtBase: 0xFFFFFFFF80000000},
		&kernelPhysBaseTag{header: header{Kind: tagKernelPhysBase}, PhysBase: 0},
		&stackTag{header: header{Kind: tagStack}, Begin: 0x1000, End: 0x10000},
	)
	if _, err := Parse(raw); err != ErrZeroKernelBase {
		t.Errorf("Parse() err = %v, want ErrZeroKernelBase", err)
	}
}

func TestParseMissingStack(t *testing.T) {
	raw := buildList(t,
		&kernelBaseTag{header: header{Kind: tagKernelBase}, VirtBase: 0xFFFFFFFF80000000},
		&kernelPhysBaseTag{header: header{Kind: tagKernelPhysBase}, PhysBase: 0x200000},
	)
	if _, err := Parse(raw); err != ErrMissingStack {
		t.Errorf("Parse() err = %v, want ErrMissingStack", err)
	}
}

func TestParseStackTooSmall(t *testing.T) {
	raw := buildList(t,
		&kernelBaseTag{header: header{Kind: tagKernelBase}, VirtBase: 0xFFFFFFFF80000000},
		&kernelPhysBaseTag{header: header{Kind: tagKernelPhysBase}, PhysBase: 0x200000},
		&stackTag{header: header{Kind: tagStack}, Begin: 0x1000, End: 0x1800},
	)
	if _, err := Parse(raw); err != ErrStackTooSmall {
		t.Errorf("Parse() err = %v, want ErrStackTooSmall", err)
	}
}

func TestParseSuccess(t *testing.T) {
	raw := buildList(t,
		&kernelBaseTag{header: header{Kind: tagKernelBase}, VirtBase: 0xFFFFFFFF80000000},
		&kernelPhysBaseTag{header: header{Kind: tagKernelPhysBase}, PhysBase: 0x200000},
		&stackTag{header: header{Kind: tagStack}, Begin: 0x1000, End: 0x10000},
	)
	info, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() err = %v, want nil", err)
	}
	if info.KernelVirtBase != 0xFFFFFFFF80000000 {
		t.Errorf("KernelVirtBase = %#x, want 0xFFFFFFFF80000000", uintptr(info.KernelVirtBase))
	}
	if info.KernelPhysBase != 0x200000 {
		t.Errorf("KernelPhysBase = %#x, want 0x200000", uintptr(info.KernelPhysBase))
	}
	if info.StackBegin != 0x1000 || info.StackEnd != 0x10000 {
		t.Errorf("stack bounds = [%#x, %#x), want [0x1000, 0x10000)", info.StackBegin, info.StackEnd)
	}
}
