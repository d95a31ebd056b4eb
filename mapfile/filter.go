package mapfile

import (
	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
	"github.com/eak1mov/go-worldmap/marker"
)

// ExportFilter selects what Export writes.
type ExportFilter interface {
	Segment(seg uint64) bool
	Grid(seg uint64, sc grid.Coord) bool
	Marker(m *marker.Marker) bool
}

type exportAll struct{}

func (exportAll) Segment(uint64) bool          { return true }
func (exportAll) Grid(uint64, grid.Coord) bool { return true }
func (exportAll) Marker(*marker.Marker) bool   { return true }

// ExportAll selects every segment, grid and marker.
func ExportAll() ExportFilter { return exportAll{} }

type exportSegment uint64

func (f exportSegment) Segment(seg uint64) bool            { return seg == uint64(f) }
func (f exportSegment) Grid(seg uint64, _ grid.Coord) bool { return seg == uint64(f) }
func (f exportSegment) Marker(m *marker.Marker) bool       { return m.Seg == uint64(f) }

// ExportSegment selects one segment with its markers.
func ExportSegment(seg uint64) ExportFilter { return exportSegment(seg) }

type exportNear struct {
	seg    uint64
	center grid.Coord
	radius int
}

func (f exportNear) Segment(seg uint64) bool { return seg == f.seg }

func (f exportNear) Grid(seg uint64, sc grid.Coord) bool {
	return seg == f.seg && sc.Dist(f.center) <= f.radius
}

func (f exportNear) Marker(m *marker.Marker) bool {
	return f.Grid(m.Seg, m.GC())
}

// ExportNear selects the grids of the marker's segment within radius grids of
// the marker, and the markers on them.
func ExportNear(m *marker.Marker, radius int) ExportFilter {
	return exportNear{seg: m.Seg, center: m.GC(), radius: radius}
}

// ImportFilter decides which records Reimport writes.
type ImportFilter interface {
	// Grid is asked about every incoming grid. prev is the local grid with
	// the same id, nil if there is none.
	Grid(rec codec.ExportGrid, prev *grid.Grid) bool

	// Marker is asked about every incoming marker, already placed on its
	// local segment. dup tells whether an equal marker exists.
	Marker(m *marker.Marker, dup bool) bool

	// Merge is asked before two local segments found to be one are merged.
	Merge(dst, src uint64) bool

	// Failed is told about every record that cannot be imported. Returning
	// false aborts the import.
	Failed(err error) bool
}

type importPolicy struct {
	grids   func(rec codec.ExportGrid, prev *grid.Grid) bool
	markers func(m *marker.Marker, dup bool) bool
	merge   bool
}

func (p importPolicy) Grid(rec codec.ExportGrid, prev *grid.Grid) bool { return p.grids(rec, prev) }
func (p importPolicy) Marker(m *marker.Marker, dup bool) bool          { return p.markers(m, dup) }
func (p importPolicy) Merge(uint64, uint64) bool                       { return p.merge }
func (p importPolicy) Failed(error) bool                               { return true }

// ImportAll writes every grid and every marker not already present.
func ImportAll() ImportFilter {
	return importPolicy{
		grids:   func(codec.ExportGrid, *grid.Grid) bool { return true },
		markers: func(_ *marker.Marker, dup bool) bool { return !dup },
		merge:   true,
	}
}

// ImportReadOnly writes nothing; the import only validates the stream.
func ImportReadOnly() ImportFilter {
	return importPolicy{
		grids:   func(codec.ExportGrid, *grid.Grid) bool { return false },
		markers: func(*marker.Marker, bool) bool { return false },
	}
}

// ImportNew writes grids unknown to the store and markers not already present.
func ImportNew() ImportFilter {
	return importPolicy{
		grids:   func(_ codec.ExportGrid, prev *grid.Grid) bool { return prev == nil },
		markers: func(_ *marker.Marker, dup bool) bool { return !dup },
		merge:   true,
	}
}
