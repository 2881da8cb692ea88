// Command chentry rewrites the e_entry field of a linked deimos kernel
// image so the bootloader jumps straight to the Go entry trampoline
// instead of whatever the linker chose by default. Adapted from
// biscuit's kernel/chentry.go, which does the same rewrite for biscuit's
// own images; this version additionally accepts a symbol name and looks
// its address up in the image's symbol table, since "main.Entry" is more
// convenient to name on the command line than its numeric address.
package main

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"strconv"
)

func usage(me string) {
	fmt.Printf("%s <filename> <addr-or-symbol>\n\nChange the ELF entry point of <filename> to <addr> or the address of <symbol>\n", me)
	os.Exit(1)
}

// chkELF validates that eh looks like the kind of image this kernel links:
// a little-endian 64-bit x86 executable. The ELF magic itself has already
// been checked by elf.NewFile.
func chkELF(eh *elf.FileHeader) {
	if eh.Class != elf.ELFCLASS64 {
		log.Fatal("not a 64 bit elf")
	}
	if eh.Data != elf.ELFDATA2LSB {
		log.Fatal("not little-endian?")
	}
	if eh.Type != elf.ET_EXEC {
		log.Fatal("not an executable elf")
	}
	if eh.Machine != elf.EM_X86_64 {
		log.Fatal("not a 64 bit elf")
	}
}

func main() {
	if len(os.Args) != 3 {
		usage(os.Args[0])
	}
	fn := os.Args[1]
	target := os.Args[2]

	f, err := os.OpenFile(fn, os.O_RDWR, 0)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		log.Fatal(err)
	}
	chkELF(&ef.FileHeader)

	addr, err := resolveTarget(ef, target)
	if err != nil {
		log.Fatal(err)
	}
	if addr>>32 != 0 {
		log.Fatal("entry is a 64-bit canonical pointer; the bootloader handshake only passes a 32-bit entry field")
	}

	fmt.Printf("using address 0x%x\n", addr)

	// e_entry is the 8-byte field at offset 0x18 of an ELF64 header.
	if _, err := f.Seek(0x18, 0); err != nil {
		log.Fatal(err)
	}
	if err := binary.Write(f, binary.LittleEndian, addr); err != nil {
		log.Fatal(err)
	}
}

// resolveTarget interprets target as a numeric address (strtoul-style,
// base 0, matching chentry's original C heritage) if it parses as one,
// and otherwise as a symbol name to look up in ef's symbol table.
func resolveTarget(ef *elf.File, target string) (uint64, error) {
	if a, err := strconv.ParseUint(target, 0, 64); err == nil {
		return a, nil
	}

	syms, err := ef.Symbols()
	if err != nil {
		return 0, fmt.Errorf("reading symbol table: %w", err)
	}
	for _, sym := range syms {
		if sym.Name == target {
			return sym.Value, nil
		}
	}
	return 0, fmt.Errorf("symbol %q not found", target)
}
