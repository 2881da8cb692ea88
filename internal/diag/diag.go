// Package diag renders the pager's current allocation state as a
// pprof-compatible heap profile, so it can be dumped over the serial port
// and inspected post-mortem on the build host with `go tool pprof`. It
// never mutates pager state and never runs on the init/activate path --
// purely a debug aid, invoked from a kernel debug command.
package diag

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"

	"deimos/internal/pagetable"
)

// Snapshot is a point-in-time copy of the pager's allocation counters,
// gathered by Profile in the same call that builds the pprof profile and
// recorded into that profile's Comments so a dump carries both the
// per-frame trace and the aggregate counts in one artifact.
type Snapshot struct {
	MappedVirtualPages  uint64
	AllocatedPhysFrames uint64
	HighWaterVirt       uint64
	HighWaterPhys       uint64
}

// frameSource reports, for diagnostic purposes, whether a given virtual
// page or physical frame is currently allocated. *pager.Pager satisfies
// this without diag importing the pager package back, keeping the
// dependency one-directional.
type frameSource interface {
	IsVirtuallyAllocated(pagetable.Va, bool) bool
	IsPhysicallyAllocated(pagetable.Pa, bool) bool
}

// Profile walks [0, pagetable.VmemMax) in page-sized steps, once over the
// virtual address space and once over the physical, and builds a pprof
// profile with one sample per allocated physical frame. Each sample's
// single location carries a synthetic line whose number is the frame's
// physical address, so `go tool pprof -traces` prints one line per
// allocated frame. The aggregate counts from both walks are returned as a
// Snapshot and also recorded as a profile comment.
func Profile(p frameSource) (*profile.Profile, Snapshot) {
	fn := &profile.Function{ID: 1, Name: "allocated_frame", SystemName: "allocated_frame"}
	mapping := &profile.Mapping{ID: 1, File: "deimos-kernel"}

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "frames", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     pagetable.PageSize,
		Mapping:    []*profile.Mapping{mapping},
		Function:   []*profile.Function{fn},
	}

	var snap Snapshot
	var nextLocID uint64 = 1
	for addr := pagetable.Pa(0); addr < pagetable.VmemMax; addr += pagetable.PageSize {
		if !p.IsPhysicallyAllocated(addr, true) {
			continue
		}
		snap.AllocatedPhysFrames++
		snap.HighWaterPhys = uint64(addr) + pagetable.PageSize

		loc := &profile.Location{
			ID:      nextLocID,
			Mapping: mapping,
			Address: uint64(addr),
			Line:    []profile.Line{{Function: fn, Line: int64(addr)}},
		}
		nextLocID++
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1},
		})
	}

	for v := pagetable.Va(0); v < pagetable.VmemMax; v += pagetable.PageSize {
		if !p.IsVirtuallyAllocated(v, true) {
			continue
		}
		snap.MappedVirtualPages++
		snap.HighWaterVirt = uint64(v) + pagetable.PageSize
	}

	prof.Comments = []string{fmt.Sprintf(
		"snapshot: mapped_virtual_pages=%d allocated_phys_frames=%d high_water_virt=%#x high_water_phys=%#x",
		snap.MappedVirtualPages, snap.AllocatedPhysFrames, snap.HighWaterVirt, snap.HighWaterPhys,
	)}
	return prof, snap
}

// WriteTo serializes prof (gzip-compressed, as profile.Profile.Write
// always produces) to w.
func WriteTo(w io.Writer, prof *profile.Profile) error {
	return prof.Write(w)
}
