// Command depgraph prints a Graphviz DOT description of this module's
// internal package dependency graph. Adapted from biscuit's
// misc/depgraph, which shells out to `go mod graph` and reformats its
// output; this version instead loads the package graph in-process with
// golang.org/x/tools/go/packages, so it can walk deimos's own internal/
// and cmd/ packages (module-graph depth, which `go mod graph` reports,
// is the wrong granularity for a single-module kernel tree).
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/tools/go/packages"
)

func main() {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps,
	}
	pkgs, err := packages.Load(cfg, "deimos/...")
	if err != nil {
		panic(err)
	}

	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()
	writer.WriteString("digraph deps {\n")

	seen := map[string]bool{}
	var visit func(p *packages.Package)
	visit = func(p *packages.Package) {
		if seen[p.PkgPath] {
			return
		}
		seen[p.PkgPath] = true
		for _, imp := range p.Imports {
			if !strings.HasPrefix(imp.PkgPath, "deimos/") {
				continue
			}
			fmt.Fprintf(writer, "    %q -> %q;\n", p.PkgPath, imp.PkgPath)
			visit(imp)
		}
	}
	for _, p := range pkgs {
		visit(p)
	}

	writer.WriteString("}\n")
}
