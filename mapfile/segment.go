package mapfile

import (
	"fmt"
	"maps"
	"sync"

	"github.com/eak1mov/go-worldmap/cache"
	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
)

type zoomKey struct {
	Level int
	SC    grid.Coord
}

// Segment is a region of grids sharing one coordinate frame. It holds the
// coordinate to grid id bijection and lazily resolved grid and zoom grid
// handles. Every method requires a transaction; methods changing the
// bijection require a write transaction.
type Segment struct {
	ID uint64

	s      *Store
	grids  map[grid.Coord]uint64
	coords map[uint64]grid.Coord

	// cmu guards the handle maps, which readers fill concurrently.
	cmu     sync.Mutex
	byID    map[uint64]*cache.Handle[*grid.Grid]
	byCoord map[grid.Coord]*cache.Handle[*grid.Grid]
	byZoom  map[zoomKey]*cache.Handle[*grid.ZoomGrid]
}

func newSegment(s *Store, rec *codec.SegmentRecord) *Segment {
	seg := &Segment{
		ID:      rec.ID,
		s:       s,
		grids:   rec.Grids,
		coords:  make(map[uint64]grid.Coord, len(rec.Grids)),
		byID:    make(map[uint64]*cache.Handle[*grid.Grid]),
		byCoord: make(map[grid.Coord]*cache.Handle[*grid.Grid]),
		byZoom:  make(map[zoomKey]*cache.Handle[*grid.ZoomGrid]),
	}
	for c, id := range rec.Grids {
		seg.coords[id] = c
	}
	return seg
}

func (seg *Segment) record() *codec.SegmentRecord {
	return &codec.SegmentRecord{ID: seg.ID, Grids: maps.Clone(seg.grids)}
}

// Len returns the number of grids in the segment.
func (seg *Segment) Len(tx Tx) int {
	checkTx(tx)
	return len(seg.grids)
}

// Coords returns the mapped coordinates in row order.
func (seg *Segment) Coords(tx Tx) []grid.Coord {
	checkTx(tx)
	return codec.SortedCoords(seg.grids)
}

// GridID returns the id of the grid at sc.
func (seg *Segment) GridID(tx Tx, sc grid.Coord) (uint64, bool) {
	checkTx(tx)
	id, ok := seg.grids[sc]
	return id, ok
}

// Coord returns the coordinate of grid id.
func (seg *Segment) Coord(tx Tx, id uint64) (grid.Coord, bool) {
	checkTx(tx)
	c, ok := seg.coords[id]
	return c, ok
}

// ByID returns a handle to grid id. Concurrent requests share one load.
func (seg *Segment) ByID(tx Tx, id uint64) *cache.Handle[*grid.Grid] {
	checkTx(tx)
	seg.cmu.Lock()
	defer seg.cmu.Unlock()
	return seg.byIDLocked(id)
}

func (seg *Segment) byIDLocked(id uint64) *cache.Handle[*grid.Grid] {
	if h, ok := seg.byID[id]; ok && reusable(h) {
		return h
	}
	h := background(seg.s, func(tx *ReadTx) (*grid.Grid, error) {
		return seg.s.grids.Get(tx.ctx, id)
	})
	seg.byID[id] = h
	return h
}

// Grid returns a handle to the grid at sc. If no grid is mapped at sc yet the
// handle stays pending until one is included there.
func (seg *Segment) Grid(tx Tx, sc grid.Coord) *cache.Handle[*grid.Grid] {
	checkTx(tx)
	seg.cmu.Lock()
	defer seg.cmu.Unlock()
	if h, ok := seg.byCoord[sc]; ok && reusable(h) {
		return h
	}
	h := cache.Pending[*grid.Grid]()
	if id, ok := seg.grids[sc]; ok {
		h.Follow(seg.byIDLocked(id))
	}
	seg.byCoord[sc] = h
	return h
}

// Zoom returns a handle to the zoom grid of level lvl at sc.
func (seg *Segment) Zoom(tx Tx, lvl int, sc grid.Coord) *cache.Handle[*grid.ZoomGrid] {
	s := checkTx(tx)
	if lvl < 1 || lvl > s.cfg.MaxZoomLevel {
		return cache.Resolved[*grid.ZoomGrid](nil, fmt.Errorf("worldmap: zoom level %d out of range", lvl))
	}
	seg.cmu.Lock()
	defer seg.cmu.Unlock()
	key := zoomKey{Level: lvl, SC: sc}
	if h, ok := seg.byZoom[key]; ok && reusable(h) {
		return h
	}
	h := background(s, func(tx *ReadTx) (*grid.ZoomGrid, error) {
		zg, err := seg.fetch(tx, lvl, sc)
		if err == nil && zg == nil {
			err = fmt.Errorf("%w: zoom grid %x/%d/%v", ErrNotFound, seg.ID, lvl, sc)
		}
		return zg, err
	})
	seg.byZoom[key] = h
	return h
}

// reusable reports whether a handle may be handed out again: it is still
// pending or has resolved to a value. Failed loads are retried.
func reusable[T any](h *cache.Handle[T]) bool {
	_, ready, err := h.Poll()
	return !ready || err == nil
}

// loaded returns the grid at sc if its handle has already resolved.
func (seg *Segment) loaded(sc grid.Coord) (*grid.Grid, bool) {
	id, ok := seg.grids[sc]
	if !ok {
		return nil, false
	}
	seg.cmu.Lock()
	h, ok := seg.byID[id]
	seg.cmu.Unlock()
	if !ok {
		return nil, false
	}
	g, ready, err := h.Poll()
	if !ready || err != nil {
		return nil, false
	}
	return g, true
}

// GridSeq returns the update sequence of the grid at sc. It reports false
// while the grid is not loaded or its sequence is unknown.
func (seg *Segment) GridSeq(tx Tx, sc grid.Coord) (int, bool) {
	checkTx(tx)
	g, ok := seg.loaded(sc)
	if !ok || g.Seq == grid.SeqUnknown {
		return 0, false
	}
	return g.Seq, true
}

// TileName returns the tileset name of the tile at segment tile coordinate
// tc. It reports false while the grid is not loaded.
func (seg *Segment) TileName(tx Tx, tc grid.Coord) (string, bool) {
	checkTx(tx)
	g, ok := seg.loaded(tc.DivC(grid.Size))
	if !ok {
		return "", false
	}
	return g.Tile(tc.ModC(grid.Size)).Res.Name, true
}

// include maps grid id at sc, displacing whatever was mapped at either end.
// g, if given, becomes the resolved value of the grid's handles. It returns
// the id displaced from sc, if any.
func (seg *Segment) include(tx *WriteTx, id uint64, sc grid.Coord, g *grid.Grid) (displaced uint64) {
	if old, ok := seg.coords[id]; ok && old != sc {
		delete(seg.grids, old)
		seg.dropCoord(old)
		seg.dropZoom(tx, old)
	}
	if prev, ok := seg.grids[sc]; ok && prev != id {
		delete(seg.coords, prev)
		displaced = prev
	}
	seg.grids[sc] = id
	seg.coords[id] = sc

	seg.cmu.Lock()
	if displaced != 0 {
		delete(seg.byID, displaced)
	}
	if g != nil {
		seg.byID[id] = cache.Resolved(g, nil)
	}
	if h, ok := seg.byCoord[sc]; ok {
		if _, ready, _ := h.Poll(); ready {
			delete(seg.byCoord, sc)
		} else {
			h.Follow(seg.byIDLocked(id))
		}
	}
	seg.cmu.Unlock()

	seg.dropZoom(tx, sc)
	return displaced
}

// uninclude removes the mapping at sc and drops its handles.
func (seg *Segment) uninclude(tx *WriteTx, sc grid.Coord) (uint64, bool) {
	id, ok := seg.grids[sc]
	if !ok {
		return 0, false
	}
	delete(seg.grids, sc)
	delete(seg.coords, id)
	seg.cmu.Lock()
	delete(seg.byID, id)
	seg.cmu.Unlock()
	seg.dropCoord(sc)
	seg.dropZoom(tx, sc)
	return id, true
}

func (seg *Segment) dropCoord(sc grid.Coord) {
	seg.cmu.Lock()
	defer seg.cmu.Unlock()
	if h, ok := seg.byCoord[sc]; ok {
		if _, ready, _ := h.Poll(); ready {
			delete(seg.byCoord, sc)
		}
	}
}

// invalidate removes the mapping at sc and orphans its grid.
func (seg *Segment) invalidate(tx *WriteTx, sc grid.Coord) bool {
	id, ok := seg.uninclude(tx, sc)
	if !ok {
		return false
	}
	tx.s.grids.Remove(id)
	tx.setInfo(codec.GridInfo{ID: id, SC: sc})
	tx.dirty(seg)
	return true
}
