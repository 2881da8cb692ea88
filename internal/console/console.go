// Package console provides the kernel's earliest output path: a serial
// line on COM1 and, once the bootloader has negotiated one, a terminal
// callback. Both sinks are written on every call, mirroring
// original_source/src/main.rs's printstr, because at this point in boot
// neither sink's availability can be assumed in isolation.
package console

import (
	"fmt"

	"deimos/internal/ioport"
)

const com1 = 0x03F8

// TerminalWriter is the bootloader-supplied callback for formatted
// terminal output. Nothing in this tree assigns it: bootproto.Parse keeps
// the bootloader's terminal function only as a raw address
// (Info.TerminalWriteAddr), so it stays nil and WriteTerminal is a no-op
// unless a caller sets it.
var TerminalWriter func(string)

// WriteSerial writes s to COM1, one byte at a time.
func WriteSerial(s string) {
	for i := 0; i < len(s); i++ {
		ioport.Out8(com1, s[i])
	}
}

// WriteTerminal writes s through the bootloader terminal callback, if one
// has been negotiated, and is a no-op otherwise.
func WriteTerminal(s string) {
	if TerminalWriter != nil {
		TerminalWriter(s)
	}
}

// Println writes s followed by a newline to both sinks.
func Println(s string) {
	WriteSerial(s)
	WriteSerial("\n")
	WriteTerminal(s)
	WriteTerminal("\n")
}

// Printf formats according to format and writes the result to both sinks.
func Printf(format string, args ...any) {
	s := fmt.Sprintf(format, args...)
	WriteSerial(s)
	WriteTerminal(s)
}
