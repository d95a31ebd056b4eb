package mapfile

import (
	"context"
	"errors"
	"fmt"

	"github.com/eak1mov/go-worldmap/cache"
	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
)

// Update queues a batch of freshly observed live grids; ts resolves their
// tile types. The background processor applies the batch, see Sync.
func (s *Store) Update(ts grid.Tilesets, batch ...*grid.LiveGrid) error {
	if len(batch) == 0 {
		return nil
	}
	return s.proc.enqueue(updateBatch{tilesets: ts, grids: batch})
}

// placement is a segment reached by a batch, with the offset from the live
// session frame to the segment frame.
type placement struct {
	seg *Segment
	off grid.Coord
}

func (tx *WriteTx) update(ts grid.Tilesets, batch []*grid.LiveGrid) error {
	s := tx.s
	placements := make(map[uint64]*placement)
	var order []uint64
	var found, missing []*grid.LiveGrid

	for _, lg := range batch {
		info, err := s.infos.Get(tx.ctx, lg.ID)
		if err != nil || info.Seg == 0 {
			if err != nil && !errors.Is(err, ErrNotFound) {
				s.logger.Warn("worldmap: gridinfo unavailable", "grid", hexID(lg.ID), "err", err)
			}
			missing = append(missing, lg)
			continue
		}
		seg, err := tx.Segment(info.Seg)
		if err != nil {
			s.logger.Warn("worldmap: segment unavailable", "seg", hexID(info.Seg), "grid", hexID(lg.ID), "err", err)
			missing = append(missing, lg)
			continue
		}
		if id, ok := seg.grids[info.SC]; !ok || id != lg.ID {
			s.logger.Warn("worldmap: segment map disagrees with gridinfo",
				"seg", hexID(seg.ID), "grid", hexID(lg.ID), "sc", info.SC)
			missing = append(missing, lg)
			continue
		}

		off := info.SC.Sub(lg.GC)
		p, ok := placements[seg.ID]
		if !ok {
			p = &placement{seg: seg, off: off}
			placements[seg.ID] = p
			order = append(order, seg.ID)
		} else if p.off != off {
			s.logger.Warn("worldmap: inconsistent grid offset",
				"seg", hexID(seg.ID), "grid", hexID(lg.ID), "offset", off, "want", p.off)
			missing = append(missing, lg)
			continue
		}
		found = append(found, lg)
	}

	var dst *placement
	for _, id := range order {
		if p := placements[id]; dst == nil || len(p.seg.grids) > len(dst.seg.grids) {
			dst = p
		}
	}
	for _, id := range order {
		if p := placements[id]; p != dst {
			tx.merge(dst.seg, p.seg, p.off.Sub(dst.off))
		}
	}

	var errs []error
	for _, lg := range found {
		sc := lg.GC.Add(dst.off)
		if id, ok := dst.seg.grids[sc]; !ok || id != lg.ID {
			missing = append(missing, lg)
			continue
		}
		if err := tx.refresh(ts, dst.seg, lg, sc); err != nil {
			errs = append(errs, err)
		}
	}

	for _, lg := range missing {
		g, err := tx.derive(ts, lg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if dst == nil {
			dst = &placement{seg: tx.newSegment(0)}
		}
		tx.attach(dst.seg, lg.ID, lg.GC.Add(dst.off), g)
	}
	return errors.Join(errs...)
}

// build derives the stored form of a live grid from it and prev. unchanged
// is set when the result has the same content as prev.
func build(ts grid.Tilesets, lg *grid.LiveGrid, prev *grid.Grid) (g *grid.Grid, unchanged bool, err error) {
	ng, err := grid.From(lg, ts)
	if err != nil {
		return nil, false, fmt.Errorf("worldmap: grid %x: %w", lg.ID, err)
	}
	g = grid.MergePrev(ng, prev)
	if prev != nil && g.SameContent(&prev.DataGrid) {
		kept := *prev
		kept.Seq = lg.Seq
		return &kept, true, nil
	}
	return g, false, nil
}

func (tx *WriteTx) previous(id uint64) *grid.Grid {
	prev, err := tx.s.grids.Get(tx.ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			tx.s.logger.Warn("worldmap: previous grid unavailable", "grid", hexID(id), "err", err)
		}
		return nil
	}
	return prev
}

// refresh re-derives a grid already placed in seg. It writes nothing when the
// update sequence is unchanged or the content turns out to be the same.
func (tx *WriteTx) refresh(ts grid.Tilesets, seg *Segment, lg *grid.LiveGrid, sc grid.Coord) error {
	prev := tx.previous(lg.ID)
	if prev != nil && prev.Seq == lg.Seq && prev.HeightsKnown() {
		return nil
	}
	g, unchanged, err := build(ts, lg, prev)
	if err != nil {
		return err
	}
	if unchanged {
		tx.s.grids.Remember(lg.ID, g)
		seg.cmu.Lock()
		if _, ok := seg.byID[lg.ID]; ok {
			seg.byID[lg.ID] = cache.Resolved(g, nil)
		}
		seg.cmu.Unlock()
		return nil
	}
	if err := tx.s.grids.Put(tx.ctx, lg.ID, g); err != nil {
		return err
	}
	seg.include(tx, lg.ID, sc, g)
	return nil
}

// derive stores the grid of a live grid with no usable location. A grid
// known from before, e.g. an invalidated one, is merged with its old content.
func (tx *WriteTx) derive(ts grid.Tilesets, lg *grid.LiveGrid) (*grid.Grid, error) {
	g, unchanged, err := build(ts, lg, tx.previous(lg.ID))
	if err != nil {
		return nil, err
	}
	if unchanged {
		tx.s.grids.Remember(lg.ID, g)
	} else if err := tx.s.grids.Put(tx.ctx, lg.ID, g); err != nil {
		return nil, err
	}
	return g, nil
}

// attach maps grid id at sc in seg, detaching it from wherever its GridInfo
// placed it before.
func (tx *WriteTx) attach(seg *Segment, id uint64, sc grid.Coord, g *grid.Grid) {
	if info, err := tx.s.infos.Get(tx.ctx, id); err == nil && info.Seg != 0 && info.Seg != seg.ID {
		if old, err := tx.Segment(info.Seg); err == nil && old.grids[info.SC] == id {
			old.uninclude(tx, info.SC)
			tx.dirty(old)
		}
	}
	if displaced := seg.include(tx, id, sc, g); displaced != 0 {
		tx.s.logger.Warn("worldmap: grid displaced", "seg", hexID(seg.ID), "sc", sc, "grid", hexID(displaced))
		tx.setInfo(codec.GridInfo{ID: displaced, SC: sc})
	}
	tx.setInfo(codec.GridInfo{ID: id, Seg: seg.ID, SC: sc})
	tx.dirty(seg)
}

// Merge moves every grid and marker of segment src into segment dst. A grid
// at c in src ends up at c - offset in dst.
func (tx *WriteTx) Merge(dst, src uint64, offset grid.Coord) error {
	tx.check()
	if dst == src {
		return fmt.Errorf("worldmap: cannot merge segment %x into itself", dst)
	}
	d, err := tx.Segment(dst)
	if err != nil {
		return err
	}
	sg, err := tx.Segment(src)
	if err != nil {
		return err
	}
	tx.merge(d, sg, offset)
	return nil
}

func (tx *WriteTx) merge(dst, src *Segment, offset grid.Coord) {
	s := tx.s
	s.logger.Info("worldmap: merging segments",
		"dst", hexID(dst.ID), "src", hexID(src.ID), "offset", offset, "grids", len(src.grids))

	for _, c := range codec.SortedCoords(src.grids) {
		id := src.grids[c]
		nc := c.Sub(offset)
		g, _ := src.loaded(c)
		if displaced := dst.include(tx, id, nc, g); displaced != 0 {
			s.logger.Warn("worldmap: grid displaced by merge", "seg", hexID(dst.ID), "sc", nc, "grid", hexID(displaced))
			tx.setInfo(codec.GridInfo{ID: displaced, SC: nc})
		}
		tx.setInfo(codec.GridInfo{ID: id, Seg: dst.ID, SC: nc})
	}

	for i, m := range s.markers {
		if m.Seg == src.ID {
			s.markers[i] = m.Moved(dst.ID, offset)
		}
	}

	delete(s.known, src.ID)
	s.segs.Remove(src.ID)
	s.proc.forgetSegment(src.ID)
	s.proc.markIndex()
	tx.dirty(dst)
}

// Invalidate removes the grid at sc from segment seg. The grid's GridInfo is
// kept with no segment.
func (tx *WriteTx) Invalidate(seg uint64, sc grid.Coord) error {
	tx.check()
	sg, err := tx.Segment(seg)
	if err != nil {
		return err
	}
	if !sg.invalidate(tx, sc) {
		return fmt.Errorf("%w: no grid at %v in segment %x", ErrNotFound, sc, seg)
	}
	return nil
}

// InvalidateGrid removes grid id from its segment.
func (s *Store) InvalidateGrid(ctx context.Context, id uint64) error {
	return s.Write(ctx, func(tx *WriteTx) error {
		seg, sc, err := tx.Locate(id)
		if err != nil {
			return err
		}
		return tx.Invalidate(seg.ID, sc)
	})
}
