package mapfile

import (
	"errors"

	"github.com/eak1mov/go-worldmap/blob"
	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
)

// source returns the level lvl data at sc: a grid for level 0, a zoom grid
// above. nil without an error means there is no data.
func (seg *Segment) source(tx *ReadTx, lvl int, sc grid.Coord) (*grid.DataGrid, error) {
	if lvl > 0 {
		zg, err := seg.fetch(tx, lvl, sc)
		if zg == nil || err != nil {
			return nil, err
		}
		return &zg.DataGrid, nil
	}

	id, ok := seg.grids[sc]
	if !ok {
		return nil, nil
	}
	g, err := tx.s.grids.Get(tx.ctx, id)
	if err != nil {
		if tx.ctx.Err() != nil || errors.Is(err, blob.ErrContention) {
			return nil, err
		}
		// unreadable grids render as blank
		return nil, nil
	}
	return &g.DataGrid, nil
}

// fetch returns the zoom grid of level lvl at sc. A stored zoom grid is used
// while it is at least as new as its four sources; otherwise it is rebuilt
// and stored again.
func (seg *Segment) fetch(tx *ReadTx, lvl int, sc grid.Coord) (*grid.ZoomGrid, error) {
	if err := tx.ctx.Err(); err != nil {
		return nil, err
	}
	if zg, ok := seg.loadedZoom(lvl, sc); ok {
		return zg, nil
	}

	var quads [4]*grid.DataGrid
	var mtime int64
	empty := true
	for i, c := range grid.Children(sc) {
		d, err := seg.source(tx, lvl-1, c)
		if err != nil {
			return nil, err
		}
		if d != nil {
			quads[i] = d
			mtime = max(mtime, d.MTime)
			empty = false
		}
	}
	if empty {
		return nil, nil
	}

	s := tx.s
	key := codec.ZoomKey(seg.ID, lvl, sc)
	data, err := s.get(tx.ctx, key)
	switch {
	case err == nil:
		zg, err := codec.DecodeZoomGrid(data, seg.ID, lvl, sc)
		if err == nil && zg.MTime >= mtime {
			return zg, nil
		}
		if err != nil {
			s.logger.Warn("worldmap: unreadable zoom grid", "key", key, "err", err)
		}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	zg := grid.BuildZoom(seg.ID, lvl, sc, quads)
	data, err = codec.EncodeZoomGrid(zg, s.compression)
	if err == nil {
		err = s.put(tx.ctx, key, data)
	}
	if err != nil {
		s.logger.Warn("worldmap: cannot store zoom grid", "key", key, "err", err)
	}
	return zg, nil
}

func (seg *Segment) loadedZoom(lvl int, sc grid.Coord) (*grid.ZoomGrid, bool) {
	seg.cmu.Lock()
	h, ok := seg.byZoom[zoomKey{Level: lvl, SC: sc}]
	seg.cmu.Unlock()
	if !ok {
		return nil, false
	}
	zg, ready, err := h.Poll()
	return zg, ready && err == nil && zg != nil
}

// inval drops the zoom grids covering the level-0 coordinate sc at every
// level, loaded and stored alike. An empty block is never stored, so a
// missing level says nothing about the levels above it. It returns the
// highest level dropped, 0 if none.
func (seg *Segment) inval(tx *WriteTx, sc grid.Coord) int {
	s := tx.s
	top := 0
	for lvl := 1; lvl <= s.cfg.MaxZoomLevel; lvl++ {
		zc := grid.ZoomCoord(sc, lvl)

		seg.cmu.Lock()
		h, loaded := seg.byZoom[zoomKey{Level: lvl, SC: zc}]
		delete(seg.byZoom, zoomKey{Level: lvl, SC: zc})
		seg.cmu.Unlock()
		if loaded {
			h.Cancel()
			top = lvl
		}

		key := codec.ZoomKey(seg.ID, lvl, zc)
		stored, err := s.exists(tx.ctx, key)
		if err != nil {
			s.logger.Warn("worldmap: cannot check zoom grid", "key", key, "err", err)
			stored = true
		}
		if !stored {
			continue
		}
		if err := s.remove(tx.ctx, key); err != nil {
			s.logger.Warn("worldmap: cannot delete zoom grid", "key", key, "err", err)
		}
		top = lvl
	}
	return top
}

func (seg *Segment) dropZoom(tx *WriteTx, sc grid.Coord) {
	if top := seg.inval(tx, sc); top > 0 {
		tx.s.logger.Debug("worldmap: zoom grids dropped", "seg", hexID(seg.ID), "sc", sc, "levels", top)
	}
}
