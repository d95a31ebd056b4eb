package codec

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/eak1mov/go-worldmap/grid"
)

const (
	IndexKey = "index"

	InfoVersion    = 1
	GridVersion    = 2 // version 1 carried neither mtime nor heights
	ZoomVersion    = 1
	SegmentVersion = 1
)

func InfoKey(id uint64) string    { return fmt.Sprintf("gi-%x", id) }
func GridKey(id uint64) string    { return fmt.Sprintf("grid-%x", id) }
func SegmentKey(id uint64) string { return fmt.Sprintf("seg-%x", id) }

func ZoomKey(seg uint64, lvl int, sc grid.Coord) string {
	return fmt.Sprintf("zgrid-%x-%d-%d-%d", seg, lvl, sc.X, sc.Y)
}

// GridInfo locates a grid: its segment and its coordinate inside it.
// A zero Seg marks an orphaned grid.
type GridInfo struct {
	ID  uint64
	Seg uint64
	SC  grid.Coord
}

func EncodeGridInfo(info GridInfo) []byte {
	return NewWriter().
		Uint8(InfoVersion).
		Uint64(info.ID).
		Uint64(info.Seg).
		Coord(info.SC).
		Bytes()
}

func DecodeGridInfo(data []byte, id uint64) (GridInfo, error) {
	r := NewReader(data)
	if ver := r.Uint8(); r.Err() == nil && ver != InfoVersion {
		return GridInfo{}, fmt.Errorf("%w: gridinfo v%d", ErrInvalidVersion, ver)
	}
	info := GridInfo{ID: r.Uint64(), Seg: r.Uint64(), SC: r.Coord()}
	if err := r.Err(); err != nil {
		return GridInfo{}, err
	}
	if info.ID != id {
		return GridInfo{}, fmt.Errorf("%w: gridinfo %x read as %x", ErrIDMismatch, info.ID, id)
	}
	return info, nil
}

func writePalette(w *Writer, sets []grid.TileInfo) {
	w.Uint16(uint16(len(sets)))
	for _, set := range sets {
		w.String(set.Res.Name).Uint16(set.Res.Version).Uint8(set.Prio)
	}
}

func readPalette(r *Reader) []grid.TileInfo {
	n := int(r.Uint16())
	if n > grid.MaxTilesets {
		r.take(r.Remaining() + 1)
		return nil
	}
	sets := make([]grid.TileInfo, 0, n)
	for range n {
		name := r.String()
		ver := r.Uint16()
		prio := r.Uint8()
		sets = append(sets, grid.TileInfo{Res: grid.ResSpec{Name: name, Version: ver}, Prio: prio})
	}
	return sets
}

func writeData(w *Writer, g *grid.DataGrid) {
	writePalette(w, g.Tilesets)
	w.Raw(g.Tiles)
	for _, h := range g.Heights {
		w.Int32(h)
	}
}

func readData(r *Reader, g *grid.DataGrid, withHeights bool) error {
	g.Tilesets = readPalette(r)
	g.Tiles = slices.Clone(r.Raw(grid.Area))
	g.Heights = make([]int32, grid.Area)
	for i := range g.Heights {
		if withHeights {
			g.Heights[i] = r.Int32()
		} else {
			g.Heights[i] = grid.HeightUnknown
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	return g.Validate()
}

func EncodeGrid(g *grid.Grid, compression Compression) ([]byte, error) {
	payload := NewWriter().Uint64(g.ID).Int64(g.MTime)
	writeData(payload, &g.DataGrid)

	w := NewWriter().Uint8(GridVersion)
	if err := w.AppendBlock(payload.Bytes(), compression); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeGrid decodes a stored grid. Grids written in version 1 come back with
// unknown heights and a zero modification time.
func DecodeGrid(data []byte, id uint64) (*grid.Grid, error) {
	r := NewReader(data)
	ver := r.Uint8()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if ver != 1 && ver != GridVersion {
		return nil, fmt.Errorf("%w: grid v%d", ErrInvalidVersion, ver)
	}
	br, err := r.Block()
	if err != nil {
		return nil, err
	}

	g := &grid.Grid{ID: br.Uint64(), Seq: grid.SeqUnknown}
	if ver >= 2 {
		g.MTime = br.Int64()
	}
	if err := readData(br, &g.DataGrid, ver >= 2); err != nil {
		return nil, err
	}
	if g.ID != id {
		return nil, fmt.Errorf("%w: grid %x read as %x", ErrIDMismatch, g.ID, id)
	}
	return g, nil
}

func EncodeZoomGrid(zg *grid.ZoomGrid, compression Compression) ([]byte, error) {
	payload := NewWriter().
		Uint64(zg.Seg).
		Uint8(uint8(zg.Level)).
		Coord(zg.SC).
		Int64(zg.MTime)
	writeData(payload, &zg.DataGrid)

	w := NewWriter().Uint8(ZoomVersion)
	if err := w.AppendBlock(payload.Bytes(), compression); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeZoomGrid(data []byte, seg uint64, lvl int, sc grid.Coord) (*grid.ZoomGrid, error) {
	r := NewReader(data)
	if ver := r.Uint8(); r.Err() == nil && ver != ZoomVersion {
		return nil, fmt.Errorf("%w: zgrid v%d", ErrInvalidVersion, ver)
	}
	br, err := r.Block()
	if err != nil {
		return nil, err
	}

	zg := &grid.ZoomGrid{
		Seg:   br.Uint64(),
		Level: int(br.Uint8()),
		SC:    br.Coord(),
	}
	zg.MTime = br.Int64()
	if err := readData(br, &zg.DataGrid, true); err != nil {
		return nil, err
	}
	if zg.Seg != seg || zg.Level != lvl || zg.SC != sc {
		return nil, fmt.Errorf("%w: zgrid %x/%d/%v read as %x/%d/%v", ErrIDMismatch, zg.Seg, zg.Level, zg.SC, seg, lvl, sc)
	}
	return zg, nil
}

// SegmentRecord is the durable part of a segment: its coordinate to grid id map.
type SegmentRecord struct {
	ID    uint64
	Grids map[grid.Coord]uint64
}

// SortedCoords returns the mapped coordinates in row order.
func SortedCoords[V any](m map[grid.Coord]V) []grid.Coord {
	return slices.SortedFunc(maps.Keys(m), func(a, b grid.Coord) int {
		return cmp.Or(cmp.Compare(a.Y, b.Y), cmp.Compare(a.X, b.X))
	})
}

func EncodeSegment(seg *SegmentRecord, compression Compression) ([]byte, error) {
	payload := NewWriter().Uint64(seg.ID).Uint32(uint32(len(seg.Grids)))
	for _, c := range SortedCoords(seg.Grids) {
		payload.Coord(c).Uint64(seg.Grids[c])
	}

	w := NewWriter().Uint8(SegmentVersion)
	if err := w.AppendBlock(payload.Bytes(), compression); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeSegment(data []byte, id uint64) (*SegmentRecord, error) {
	r := NewReader(data)
	if ver := r.Uint8(); r.Err() == nil && ver != SegmentVersion {
		return nil, fmt.Errorf("%w: segment v%d", ErrInvalidVersion, ver)
	}
	br, err := r.Block()
	if err != nil {
		return nil, err
	}

	seg := &SegmentRecord{ID: br.Uint64(), Grids: make(map[grid.Coord]uint64)}
	n := br.Uint32()
	for i := uint32(0); i < n && br.Err() == nil; i++ {
		c := br.Coord()
		seg.Grids[c] = br.Uint64()
	}
	if err := br.Err(); err != nil {
		return nil, err
	}
	if seg.ID != id {
		return nil, fmt.Errorf("%w: segment %x read as %x", ErrIDMismatch, seg.ID, id)
	}
	return seg, nil
}

// ExportGrid is a grid record of an export stream.
type ExportGrid struct {
	Grid *grid.Grid
	Seg  uint64
	SC   grid.Coord
}

func EncodeExportGrid(g *grid.Grid, seg uint64, sc grid.Coord) []byte {
	w := NewWriter().
		Uint64(g.ID).
		Uint64(seg).
		Int64(g.MTime).
		Coord(sc)
	writeData(w, &g.DataGrid)
	return w.Bytes()
}

func DecodeExportGrid(data []byte) (ExportGrid, error) {
	r := NewReader(data)
	g := &grid.Grid{ID: r.Uint64(), Seq: grid.SeqUnknown}
	rec := ExportGrid{Grid: g, Seg: r.Uint64()}
	g.MTime = r.Int64()
	rec.SC = r.Coord()
	if err := readData(r, &g.DataGrid, true); err != nil {
		return ExportGrid{}, err
	}
	return rec, nil
}
