// Command ptrcheck is a build-time check for one of the pager package's
// invariants: that a Pager value's four table arenas (pml4, pdpt, pd, pt)
// are never aliased from outside the Pager value itself. It loads the
// whole program rooted at cmd/ptrcheck/harness (a small synthetic main
// that exercises pager's public API -- go/pointer's whole-program analysis
// refuses to run without a real main package), finds every instruction in
// that program that takes the address of one of the four guarded fields,
// and queries golang.org/x/tools/go/pointer for each one's points-to set.
//
// Any such FieldAddr found outside package pager is itself a violation,
// independent of the pointer analysis: the fields are unexported, so the
// only way code outside the package could reference them is by already
// having escaped a *Pager (or by unsafe trickery this check is specifically
// meant to catch). The pointer analysis additionally catches a subtler
// case: an address taken inside pager.go that is then stored somewhere
// -- a package-level variable, a different struct's field -- reachable
// from outside the package, which the structural check alone would miss.
//
// This is a host-side dev tool in the same spirit as biscuit's
// misc/depgraph: it never runs on the kernel target, only as part of the
// build.
package main

import (
	"fmt"
	"go/types"
	"os"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

const pagerPkgPath = "deimos/internal/pager"
const harnessPkgPath = "deimos/cmd/ptrcheck/harness"

var guardedFields = []string{"pml4", "pdpt", "pd", "pt"}

// fieldSite is one instruction in the whole program that takes the
// address of a guarded field.
type fieldSite struct {
	field   string
	instr   *ssa.FieldAddr
	pkgPath string
}

func main() {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedImports |
			packages.NeedDeps | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedSyntax,
	}
	pkgs, err := packages.Load(cfg, harnessPkgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ptrcheck: loading:", err)
		os.Exit(1)
	}
	if packages.PrintErrors(pkgs) > 0 {
		os.Exit(1)
	}

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	prog.Build()

	var harnessPkg *ssa.Package
	var pagerStruct *types.Struct
	for _, p := range ssaPkgs {
		if p == nil {
			continue
		}
		if p.Pkg.Path() == harnessPkgPath {
			harnessPkg = p
		}
		if p.Pkg.Path() == pagerPkgPath {
			obj := p.Pkg.Scope().Lookup("Pager")
			named, ok := obj.Type().(*types.Named)
			if !ok {
				fmt.Fprintln(os.Stderr, "ptrcheck: Pager is not a named type")
				os.Exit(1)
			}
			st, ok := named.Underlying().(*types.Struct)
			if !ok {
				fmt.Fprintln(os.Stderr, "ptrcheck: Pager is not a struct")
				os.Exit(1)
			}
			pagerStruct = st
		}
	}
	if harnessPkg == nil {
		fmt.Fprintln(os.Stderr, "ptrcheck: harness package not found in program")
		os.Exit(1)
	}
	if pagerStruct == nil {
		fmt.Fprintln(os.Stderr, "ptrcheck: pager.Pager not found in program")
		os.Exit(1)
	}

	fieldIndex := map[string]int{}
	for i := 0; i < pagerStruct.NumFields(); i++ {
		name := pagerStruct.Field(i).Name()
		for _, g := range guardedFields {
			if name == g {
				fieldIndex[g] = i
			}
		}
	}

	sites := findFieldSites(prog, pagerStruct, fieldIndex)
	if len(sites) == 0 {
		fmt.Fprintln(os.Stderr, "ptrcheck: found no references to the guarded fields at all -- the check cannot have exercised anything, failing closed")
		os.Exit(1)
	}

	violations := 0
	for _, s := range sites {
		if s.pkgPath != pagerPkgPath {
			fmt.Fprintf(os.Stderr, "ptrcheck: Pager.%s address taken outside package pager, in %s\n", s.field, s.pkgPath)
			violations++
		}
	}

	pconf := &pointer.Config{
		Mains:          []*ssa.Package{harnessPkg},
		BuildCallGraph: false,
	}
	queryIndex := map[ssa.Value]*fieldSite{}
	for i := range sites {
		pconf.AddQuery(sites[i].instr)
		queryIndex[sites[i].instr] = &sites[i]
	}

	result, err := pointer.Analyze(pconf)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ptrcheck: pointer analysis:", err)
		os.Exit(1)
	}

	// Cross-check: two distinct guarded fields should never resolve to an
	// overlapping points-to set -- that would mean the analysis conflated
	// two arenas, which should be impossible given they are disjoint
	// struct fields, but is exactly the kind of aliasing this check exists
	// to catch if a future refactor introduces a shared backing array.
	labelSets := map[string]map[string]bool{}
	for v, site := range queryIndex {
		ptr, ok := result.Queries[v]
		if !ok {
			continue
		}
		set := labelSets[site.field]
		if set == nil {
			set = map[string]bool{}
			labelSets[site.field] = set
		}
		for _, l := range ptr.PointsTo().Labels() {
			set[l.String()] = true
		}
	}
	for i, a := range guardedFields {
		for _, b := range guardedFields[i+1:] {
			for label := range labelSets[a] {
				if labelSets[b][label] {
					fmt.Fprintf(os.Stderr, "ptrcheck: Pager.%s and Pager.%s alias the same object: %s\n", a, b, label)
					violations++
				}
			}
		}
	}

	if violations > 0 {
		fmt.Fprintf(os.Stderr, "ptrcheck: %d possible violation(s) of exclusive arena ownership\n", violations)
		os.Exit(1)
	}
	fmt.Printf("ptrcheck: ok, checked %d reference site(s), no aliasing of Pager's table arenas found\n", len(sites))
}

// findFieldSites walks every function in the whole program and collects
// every FieldAddr instruction that addresses one of the Pager struct's
// guarded fields.
func findFieldSites(prog *ssa.Program, pagerStruct *types.Struct, fieldIndex map[string]int) []fieldSite {
	var sites []fieldSite
	for fn := range ssautil.AllFunctions(prog) {
		if fn.Pkg == nil {
			continue
		}
		pkgPath := fn.Pkg.Pkg.Path()
		for _, b := range fn.Blocks {
			for _, instr := range b.Instrs {
				fa, ok := instr.(*ssa.FieldAddr)
				if !ok {
					continue
				}
				ptrType, ok := fa.X.Type().Underlying().(*types.Pointer)
				if !ok {
					continue
				}
				st, ok := ptrType.Elem().Underlying().(*types.Struct)
				if !ok || !sameStruct(st, pagerStruct) {
					continue
				}
				for field, idx := range fieldIndex {
					if fa.Field == idx {
						sites = append(sites, fieldSite{field: field, instr: fa, pkgPath: pkgPath})
					}
				}
			}
		}
	}
	return sites
}

// sameStruct reports whether a and b describe the same field layout --
// used in place of pointer identity since the struct type may be observed
// through more than one *types.Named alias within the loaded program.
func sameStruct(a, b *types.Struct) bool {
	if a.NumFields() != b.NumFields() {
		return false
	}
	for i := 0; i < a.NumFields(); i++ {
		if a.Field(i).Name() != b.Field(i).Name() {
			return false
		}
	}
	return true
}
