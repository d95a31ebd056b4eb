package mapfile

import (
	"context"
	"fmt"
	"io"

	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
	"github.com/eak1mov/go-worldmap/marker"
)

type ExportParams struct {
	// Progress, if set, is called after every written record.
	Progress func(ExportStats)
}

type ExportStats struct {
	Grids   int
	Markers int
	Skipped int // selected grids that could not be read
}

type exportSegmentPlan struct {
	id    uint64
	grids []uint64
}

func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return nil
}

// Export writes the grids and markers selected by filter to w. Grids are
// written segment by segment in Hilbert order, markers last. Cancelling ctx
// stops the export between records with ErrInterrupted; the partial output
// should be discarded.
func (s *Store) Export(ctx context.Context, w io.Writer, filter ExportFilter, params ExportParams) (ExportStats, error) {
	var stats ExportStats
	var plan []exportSegmentPlan
	var markers []*marker.Marker

	err := s.Read(ctx, func(tx *ReadTx) error {
		for _, id := range tx.Segments() {
			if !filter.Segment(id) {
				continue
			}
			seg, err := tx.Segment(id)
			if err != nil {
				s.logger.Warn("worldmap: segment not exported", "seg", hexID(id), "err", err)
				continue
			}
			var coords []grid.Coord
			for _, c := range seg.Coords(tx) {
				if filter.Grid(id, c) {
					coords = append(coords, c)
				}
			}
			grid.HilbertOrder(coords)
			p := exportSegmentPlan{id: id}
			for _, c := range coords {
				p.grids = append(p.grids, seg.grids[c])
			}
			plan = append(plan, p)
		}
		for _, m := range tx.Markers() {
			if filter.Marker(m) {
				markers = append(markers, m)
			}
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	sw, err := codec.NewStreamWriter(w)
	if err != nil {
		return stats, err
	}
	defer sw.Close()

	progress := func() {
		if params.Progress != nil {
			params.Progress(stats)
		}
	}

	for _, p := range plan {
		for _, id := range p.grids {
			if err := interrupted(ctx); err != nil {
				return stats, err
			}
			payload, err := s.exportGrid(ctx, p.id, id)
			if err != nil {
				s.logger.Warn("worldmap: grid not exported", "seg", hexID(p.id), "grid", hexID(id), "err", err)
				stats.Skipped++
				continue
			}
			if payload == nil {
				continue
			}
			if err := sw.WriteRecord(codec.TagGrid, payload); err != nil {
				return stats, err
			}
			stats.Grids++
			progress()
		}
	}

	for _, m := range markers {
		if err := interrupted(ctx); err != nil {
			return stats, err
		}
		payload, err := m.Encode()
		if err != nil {
			s.logger.Warn("worldmap: marker not exported", "name", m.Name, "err", err)
			stats.Skipped++
			continue
		}
		if err := sw.WriteRecord(codec.TagMarker, payload); err != nil {
			return stats, err
		}
		stats.Markers++
		progress()
	}

	s.logger.Debug("worldmap: export done", "grids", stats.Grids, "markers", stats.Markers, "skipped", stats.Skipped)
	return stats, sw.Close()
}

// exportGrid encodes grid id at its current location. It returns nil if the
// grid left segment seg since the export was planned.
func (s *Store) exportGrid(ctx context.Context, seg, id uint64) ([]byte, error) {
	var payload []byte
	err := s.Read(ctx, func(tx *ReadTx) error {
		info, err := tx.GridInfo(id)
		if err != nil {
			return err
		}
		if info.Seg != seg {
			return nil
		}
		g, err := s.grids.Get(ctx, id)
		if err != nil {
			return err
		}
		payload = codec.EncodeExportGrid(g, info.Seg, info.SC)
		return nil
	})
	return payload, err
}
