// Package harness is not a real kernel entry point: it exists solely so
// cmd/ptrcheck has a genuine main package to give golang.org/x/tools/go/pointer,
// which refuses to run a whole-program analysis without one. It exercises
// enough of pager's public API (construction, init, mapping, activation)
// that every site in the package which takes the address of a table-arena
// field is reachable from this program's entry point.
package main

import "deimos/internal/pager"

func main() {
	p := pager.New()
	p.Init()
	p.Map(0x20000000, true, 0x40000000, true)
	p.AllocatePage(0, false)
	p.Activate()
}
