// Package panicking implements the kernel's fatal-error path: print a
// diagnostic, make a best-effort attempt at disassembling the faulting
// instruction, and halt. It is the Go analogue of original_source's
// panic/panic_handler, which print through printstr and then loop on hlt.
package panicking

import (
	"unsafe"

	"golang.org/x/arch/x86/x86asm"

	"deimos/internal/console"
	"deimos/internal/ioport"
)

// maxDecodeLen bounds how many bytes Handle reads starting at faultAddr.
// x86 instructions are at most 15 bytes; 16 leaves room for one full
// instruction even if the decoder starts mid-prefix.
const maxDecodeLen = 16

// Handle prints msg and a best-effort disassembly of the instruction at
// faultAddr, then halts and never returns. faultAddr may be 0 if the
// caller has no meaningful address to report.
func Handle(msg string, faultAddr uintptr) {
	console.Println("panic: " + msg)
	if faultAddr != 0 {
		printInstruction(faultAddr)
	}
	ioport.Halt()
}

// printInstruction attempts to decode and print the instruction at addr.
// Reading raw memory through an unsafe.Pointer at panic time can itself
// fault if addr is not mapped, so the attempt is guarded with recover --
// the page tables being described by this panic may be exactly the ones
// that are broken.
func printInstruction(addr uintptr) {
	defer func() {
		if r := recover(); r != nil {
			console.Println("  (instruction unavailable)")
		}
	}()

	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), maxDecodeLen)
	inst, err := x86asm.Decode(buf, 64)
	if err != nil {
		console.Printf("  %#x: <could not decode: %v>\n", addr, err)
		return
	}
	console.Printf("  %#x: %s\n", addr, x86asm.GNUSyntax(inst, uint64(addr), nil))
}
