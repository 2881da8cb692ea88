// Command kernel is the deimos entry point: it receives control from the
// bootloader with interrupts disabled and a small early stack, parses the
// boot-info tag list, builds the page-translation hierarchy, and installs
// it into CR3. Structured the way gopher-os's kernel/kmain.go is: a
// //go:noinline Kmain that never returns, called from an assembly
// trampoline (entry_amd64.s) rather than the usual runtime-managed main,
// since there is no host OS underneath this binary to return to.
package main

import (
	"unsafe"

	"deimos/internal/banner"
	"deimos/internal/bootproto"
	"deimos/internal/console"
	"deimos/internal/pager"
	"deimos/internal/pagetable"
	"deimos/internal/panicking"
)

// bootInfoPtr is set by the assembly entry trampoline before Kmain is
// called, to the address the bootloader passed in (typically in RDI per
// the System V AMD64 ABI).
var bootInfoPtr unsafe.Pointer

// Entry is the bootloader's jump target; its body is in entry_amd64.s.
func Entry()

//go:noinline
func Kmain() {
	info, err := bootproto.Parse(bootInfoPtr)
	if err != nil {
		panicking.Handle(err.Error(), 0)
	}
	console.Println("deimos: boot-info parsed")
	console.Printf("deimos: kernel virt base %#x, phys base %#x, size %s\n",
		uintptr(info.KernelVirtBase), uintptr(info.KernelPhysBase), banner.MemSize(info.KernelSize))

	p := pager.New()
	p.Init()
	console.Printf("deimos: identity-mapped %s (%s)\n",
		banner.MemSize(pagetable.IdentityLimit),
		banner.Count(pagetable.IdentityLimit/pagetable.PageSize, "pages"))

	if info.KernelSize != 0 {
		pages := (info.KernelSize + pagetable.PageSize - 1) / pagetable.PageSize
		if _, ok := p.AllocatePhysContig(info.KernelPhysBase, true, info.KernelVirtBase, true, int(pages)); !ok {
			panicking.Handle("failed to map kernel image", 0)
		}
		console.Printf("deimos: mapped kernel image, %s\n", banner.Count(pages, "pages"))
	}

	p.Activate()
	console.Println("deimos: paging active")

	for {
		// Kmain never returns; there is nowhere to return to.
	}
}

func main() {}
