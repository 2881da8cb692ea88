// Package bootproto parses the tagged boot-information structure handed
// off by the bootloader, analogous to the stivale2 struct consumed by
// original_source/src/main.rs and shaped, as a tagged linked list, the way
// gopher-os's kernel/hal/multiboot package walks Multiboot2 tags.
package bootproto

import (
	"errors"
	"unsafe"

	"deimos/internal/pagetable"
)

// Tag kinds. 0 terminates the list.
const (
	tagEnd = iota
	tagKernelBase
	tagKernelPhysBase
	tagStack
	tagFramebuffer
	tagTerminal
	tagRSDP
)

// header is the fixed prefix every tag struct starts with.
type header struct {
	Kind uint64
	Next uint64
}

type kernelBaseTag struct {
	header
	VirtBase uint64
}

type kernelPhysBaseTag struct {
	header
	PhysBase uint64
}

type stackTag struct {
	header
	Begin uint64
	End   uint64
}

type framebufferTag struct {
	header
	Addr   uint64
	Pitch  uint32
	Width  uint32
	Height uint32
	Bpp    uint16
}

type terminalTag struct {
	header
	WriteFn uint64
}

type rsdpTag struct {
	header
	Addr uint64
}

// Framebuffer describes an optional linear framebuffer the bootloader set
// up. It is plumbed through for completeness; no console driver consumes
// it yet (out of scope -- a pixel console is a separate component).
type Framebuffer struct {
	Addr   uintptr
	Pitch  uint32
	Width  uint32
	Height uint32
	Bpp    uint16
}

// Info is the decoded result of the boot handshake. Only KernelVirtBase,
// KernelPhysBase, KernelSize and the stack bounds are consumed by the
// pager; Framebuffer and RSDP are carried for a future console/ACPI
// component that is out of scope here. No tag carries the kernel size, so
// Parse leaves KernelSize zero.
type Info struct {
	KernelVirtBase pagetable.Va
	KernelPhysBase pagetable.Pa
	KernelSize     uint64

	StackBegin uintptr
	StackEnd   uintptr

	Framebuffer     Framebuffer
	HaveFramebuffer bool

	// TerminalWriteAddr is the raw address of the bootloader's terminal
	// write function, in its own (non-Go) calling convention. Turning this
	// into a callable console.TerminalWriter requires an assembly
	// trampoline matching that convention; out of scope here, so it is
	// kept as a plain address rather than cast to a Go func value, which
	// would assume an ABI this address does not have.
	TerminalWriteAddr uintptr

	RSDP     uintptr
	HaveRSDP bool
}

var (
	// ErrMissingKernelBase is returned unless both a virtual and a physical
	// kernel base tag were present -- cmd/kernel needs both to map the
	// image, so either one missing is fatal, not just both.
	ErrMissingKernelBase = errors.New("bootproto: missing kernel virtual or physical base tag")
	// ErrZeroKernelBase is returned when a kernel base tag was present but
	// carried a zero address, which would have cmd/kernel map the image at
	// a bogus base.
	ErrZeroKernelBase = errors.New("bootproto: kernel base tag present but zero")
	// ErrMissingStack is returned when no stack tag was present.
	ErrMissingStack = errors.New("bootproto: missing stack tag")
	// ErrStackTooSmall is returned when the stack region is not at least
	// one page plus one byte, the minimum boot glue requires to detect
	// overflow into the first guard page.
	ErrStackTooSmall = errors.New("bootproto: stack not larger than one page")
)

// Parse walks the tagged list starting at raw and returns the decoded
// Info. raw must point at a valid header; the list is walked until a
// tagEnd header is found or a tag's Next is 0.
func Parse(raw unsafe.Pointer) (Info, error) {
	var info Info
	haveVirtBase, havePhysBase, haveStack := false, false, false

	for p := raw; p != nil; {
		h := (*header)(p)
		switch h.Kind {
		case tagEnd:
			p = nil
			continue
		case tagKernelBase:
			t := (*kernelBaseTag)(p)
			info.KernelVirtBase = pagetable.Va(t.VirtBase)
			haveVirtBase = true
		case tagKernelPhysBase:
			t := (*kernelPhysBaseTag)(p)
			info.KernelPhysBase = pagetable.Pa(t.PhysBase)
			havePhysBase = true
		case tagStack:
			t := (*stackTag)(p)
			info.StackBegin = uintptr(t.Begin)
			info.StackEnd = uintptr(t.End)
			haveStack = true
		case tagFramebuffer:
			t := (*framebufferTag)(p)
			info.Framebuffer = Framebuffer{
				Addr:   uintptr(t.Addr),
				Pitch:  t.Pitch,
				Width:  t.Width,
				Height: t.Height,
				Bpp:    t.Bpp,
			}
			info.HaveFramebuffer = true
		case tagTerminal:
			t := (*terminalTag)(p)
			info.TerminalWriteAddr = uintptr(t.WriteFn)
		case tagRSDP:
			t := (*rsdpTag)(p)
			info.RSDP = uintptr(t.Addr)
			info.HaveRSDP = true
		}
		p = unsafe.Pointer(uintptr(h.Next))
	}

	if !haveVirtBase || !havePhysBase {
		return Info{}, ErrMissingKernelBase
	}
	if info.KernelVirtBase == 0 || info.KernelPhysBase == 0 {
		return Info{}, ErrZeroKernelBase
	}
	if !haveStack {
		return Info{}, ErrMissingStack
	}
	if info.StackEnd <= info.StackBegin || info.StackEnd-info.StackBegin <= pagetable.PageSize {
		return Info{}, ErrStackTooSmall
	}
	return info, nil
}
