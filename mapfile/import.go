package mapfile

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
	"github.com/eak1mov/go-worldmap/marker"
)

type ImportParams struct {
	// Progress, if set, is called after every record.
	Progress func(ImportStats)
}

type ImportStats struct {
	Grids   int // grids written
	Markers int // markers added
	Skipped int // records declined by the filter
	Errors  int // records rejected as invalid
}

// foreignSegment places a segment of the imported stream in the store: a
// foreign coordinate c is the local coordinate c+off of segment local.
type foreignSegment struct {
	local uint64 // 0 until something is written to it
	off   grid.Coord
}

type importer struct {
	filter  ImportFilter
	foreign map[uint64]*foreignSegment
	stats   ImportStats
}

// Reimport replays an export stream into the store. filter decides which
// records are written and whether a bad record aborts the import. Cancelling
// ctx stops the import between records with ErrInterrupted; records already
// imported stay.
func (s *Store) Reimport(ctx context.Context, r io.Reader, filter ImportFilter, params ImportParams) (ImportStats, error) {
	if s.proc.isClosed() {
		return ImportStats{}, ErrClosed
	}
	sr, err := codec.NewStreamReader(r)
	if err != nil {
		return ImportStats{}, err
	}
	defer sr.Close()

	imp := &importer{filter: filter, foreign: make(map[uint64]*foreignSegment)}
	for {
		if err := interrupted(ctx); err != nil {
			return imp.stats, err
		}
		tag, payload, err := sr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imp.stats, err
		}

		switch tag {
		case codec.TagGrid:
			err = s.write(ctx, func(tx *WriteTx) error { return imp.grid(tx, payload) })
		case codec.TagMarker:
			err = s.write(ctx, func(tx *WriteTx) error { return imp.marker(tx, payload) })
		default:
			err = fmt.Errorf("%w: %q", codec.ErrUnknownRecord, tag)
		}
		if err != nil {
			imp.stats.Errors++
			s.logger.Warn("worldmap: import record rejected", "tag", tag, "err", err)
			if !filter.Failed(err) {
				return imp.stats, fmt.Errorf("worldmap: import aborted: %w", err)
			}
		}
		if params.Progress != nil {
			params.Progress(imp.stats)
		}
	}

	s.logger.Debug("worldmap: import done", "grids", imp.stats.Grids, "markers", imp.stats.Markers,
		"skipped", imp.stats.Skipped, "errors", imp.stats.Errors)
	return imp.stats, nil
}

// placed returns the GridInfo of grid id if it agrees with its segment.
func (tx *ReadTx) placed(id uint64) (codec.GridInfo, bool) {
	info, err := tx.GridInfo(id)
	if err != nil || info.Seg == 0 {
		return info, false
	}
	seg, err := tx.Segment(info.Seg)
	if err != nil {
		return info, false
	}
	gid, ok := seg.grids[info.SC]
	return info, ok && gid == id
}

func (imp *importer) grid(tx *WriteTx, payload []byte) error {
	rec, err := codec.DecodeExportGrid(payload)
	if err != nil {
		return err
	}
	id := rec.Grid.ID

	fs := imp.foreign[rec.Seg]
	info, known := tx.placed(id)
	if known {
		loff := info.SC.Sub(rec.SC)
		switch {
		case fs == nil || fs.local == 0:
			fs = &foreignSegment{local: info.Seg, off: loff}
			imp.foreign[rec.Seg] = fs
		case fs.local == info.Seg:
			if fs.off != loff {
				return fmt.Errorf("%w: grid %x of segment %x at offset %v, earlier grids at %v",
					ErrInconsistentOffset, id, rec.Seg, loff, fs.off)
			}
		default:
			if !imp.join(tx, fs, info.Seg, loff) {
				imp.stats.Skipped++
				return nil
			}
		}
	} else if fs == nil {
		fs = &foreignSegment{}
		imp.foreign[rec.Seg] = fs
	}

	if !imp.filter.Grid(rec, tx.previous(id)) {
		imp.stats.Skipped++
		return nil
	}

	if fs.local == 0 {
		local := rec.Seg
		if _, ok := tx.s.known[local]; ok {
			local = 0
		}
		fs.local = tx.newSegment(local).ID
	}
	seg, err := tx.Segment(fs.local)
	if err != nil {
		return err
	}

	g := rec.Grid
	if err := tx.s.grids.Put(tx.ctx, id, g); err != nil {
		return err
	}
	tx.attach(seg, id, rec.SC.Add(fs.off), g)
	imp.stats.Grids++
	return nil
}

// join merges local segment other, where the foreign segment of fs shows up
// at offset loff, with the local segment of fs. The smaller one is merged
// into the larger one. It reports false if the filter declined the merge.
func (imp *importer) join(tx *WriteTx, fs *foreignSegment, other uint64, loff grid.Coord) bool {
	a, err := tx.Segment(fs.local)
	if err != nil {
		return false
	}
	b, err := tx.Segment(other)
	if err != nil {
		return false
	}

	dst, src, offset := a, b, loff.Sub(fs.off)
	if len(b.grids) > len(a.grids) {
		dst, src, offset = b, a, fs.off.Sub(loff)
	}
	if !imp.filter.Merge(dst.ID, src.ID) {
		return false
	}
	tx.merge(dst, src, offset)

	for _, f := range imp.foreign {
		if f.local == src.ID {
			f.local = dst.ID
			f.off = f.off.Sub(offset)
		}
	}
	return true
}

func (imp *importer) marker(tx *WriteTx, payload []byte) error {
	m, err := marker.Decode(payload)
	if err != nil {
		return err
	}
	fs, ok := imp.foreign[m.Seg]
	if !ok {
		return fmt.Errorf("%w: no grids of segment %x for marker %q", ErrNotFound, m.Seg, m.Name)
	}

	neg := grid.Coord{}.Sub(fs.off)
	lm := m.Moved(fs.local, neg)
	if !imp.filter.Marker(lm, fs.local != 0 && tx.hasMarker(lm)) {
		imp.stats.Skipped++
		return nil
	}
	if fs.local == 0 {
		local := m.Seg
		if _, ok := tx.s.known[local]; ok {
			local = 0
		}
		fs.local = tx.newSegment(local).ID
		lm = m.Moved(fs.local, neg)
	}
	tx.AddMarker(lm)
	imp.stats.Markers++
	return nil
}
