// Package ioport declares the x86 port I/O primitives and the CR3 loader.
// Each function is a thin wrapper over a single privileged instruction;
// bodies live in ioport_amd64.s. There are no error returns here — as with
// original_source/src/asm_wrappers.rs, callers are responsible for using
// valid ports and addresses.
package ioport

// In8 reads a byte from port.
func In8(port uint16) uint8

// In16 reads a word from port.
func In16(port uint16) uint16

// In32 reads a dword from port.
func In32(port uint16) uint32

// Out8 writes a byte to port.
func Out8(port uint16, val uint8)

// Out16 writes a word to port.
func Out16(port uint16, val uint16)

// Out32 writes a dword to port.
func Out32(port uint16, val uint32)

// LoadCR3 installs phys, a PML4 physical frame address, as the active
// translation root. The low 12 bits of phys must be zero.
func LoadCR3(phys uintptr)

// Halt executes hlt in a loop and never returns. Used by the panic path
// once diagnostics have been printed.
func Halt()
