package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/eak1mov/go-worldmap/cache"
	"github.com/eak1mov/go-worldmap/grid"
	"github.com/eak1mov/go-worldmap/mapfile"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
)

type pyramidCmd struct {
	g *globals

	segment string
	levels  int
}

func (c *pyramidCmd) Name() string     { return "pyramid" }
func (c *pyramidCmd) Synopsis() string { return "precompute the zoom grids of a segment" }
func (c *pyramidCmd) Usage() string {
	return "worldmap -store <path> pyramid -seg <id> [-levels <n>]\n"
}
func (c *pyramidCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.segment, "seg", "", "Segment (hex id)")
	f.IntVar(&c.levels, "levels", 0, "Number of zoom levels (default: max_zoom_level from config)")
}

// zoomCoords returns, for each level from 1 to levels, the zoom grid
// coordinates covering the given level-0 coordinates.
func zoomCoords(coords []grid.Coord, levels int) [][]grid.Coord {
	ret := make([][]grid.Coord, levels)
	for lvl := 1; lvl <= levels; lvl++ {
		seen := make(map[grid.Coord]bool)
		for _, c := range coords {
			zc := grid.ZoomCoord(c, lvl)
			if !seen[zc] {
				seen[zc] = true
				ret[lvl-1] = append(ret[lvl-1], zc)
			}
		}
		grid.HilbertOrder(ret[lvl-1])
	}
	return ret
}

func (c *pyramidCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	id, err := parseID(c.segment)
	if err != nil {
		log.Println(err)
		return subcommands.ExitUsageError
	}
	cfg, err := c.g.loadConfig()
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	levels := c.levels
	if levels <= 0 || levels > cfg.MaxZoomLevel {
		levels = cfg.MaxZoomLevel
	}

	s, closeStore, err := c.g.openStore(ctx)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer closeStore()

	var coords []grid.Coord
	err = s.Read(ctx, func(tx *mapfile.ReadTx) error {
		seg, err := tx.Segment(id)
		if err != nil {
			return err
		}
		coords = seg.Coords(tx)
		return nil
	})
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	plan := zoomCoords(coords, levels)
	total := 0
	for _, zcs := range plan {
		total += len(zcs)
	}

	bar := progressbar.New(total)
	failed := 0
	// Lower levels first, so every level finds its sources already built.
	for i, zcs := range plan {
		lvl := i + 1
		handles := make([]*cache.Handle[*grid.ZoomGrid], 0, len(zcs))
		err := s.Read(ctx, func(tx *mapfile.ReadTx) error {
			seg, err := tx.Segment(id)
			if err != nil {
				return err
			}
			for _, zc := range zcs {
				handles = append(handles, seg.Zoom(tx, lvl, zc))
			}
			return nil
		})
		if err != nil {
			log.Println(err)
			return subcommands.ExitFailure
		}
		for j, h := range handles {
			if _, err := h.Get(ctx); err != nil {
				if ctx.Err() != nil {
					log.Println(ctx.Err())
					return subcommands.ExitFailure
				}
				if !errors.Is(err, mapfile.ErrNotFound) {
					log.Printf("zoom grid %d/%v: %v", lvl, zcs[j], err)
					failed++
				}
			}
			bar.Add(1)
		}
	}
	bar.Finish()
	fmt.Println()

	fmt.Printf("built %d zoom grids on %d levels (%d failed)\n", total-failed, levels, failed)
	if failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
