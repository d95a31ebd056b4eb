package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/eak1mov/go-worldmap/mapfile"
	"github.com/eak1mov/go-worldmap/marker"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
)

type exportCmd struct {
	g *globals

	outputPath string
	segment    string
	near       string
	radius     int
}

func (c *exportCmd) Name() string     { return "export" }
func (c *exportCmd) Synopsis() string { return "export grids and markers to a file" }
func (c *exportCmd) Usage() string {
	return "worldmap -store <path> export -o <path> [-seg <id> | -near <marker> -r <grids>]\n"
}
func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.outputPath, "o", "", "Output file path")
	f.StringVar(&c.segment, "seg", "", "Export only this segment (hex id)")
	f.StringVar(&c.near, "near", "", "Export only grids near the marker with this name")
	f.IntVar(&c.radius, "r", 5, "Radius in grids for -near")
}

func (c *exportCmd) filter(ctx context.Context, s *mapfile.Store) (mapfile.ExportFilter, error) {
	switch {
	case c.segment != "" && c.near != "":
		return nil, errors.New("-seg and -near are exclusive")
	case c.segment != "":
		id, err := parseID(c.segment)
		if err != nil {
			return nil, err
		}
		return mapfile.ExportSegment(id), nil
	case c.near != "":
		var found *marker.Marker
		err := s.Read(ctx, func(tx *mapfile.ReadTx) error {
			for _, m := range tx.Markers() {
				if m.Name == c.near {
					found = m
					return nil
				}
			}
			return fmt.Errorf("%w: marker %q", mapfile.ErrNotFound, c.near)
		})
		if err != nil {
			return nil, err
		}
		return mapfile.ExportNear(found, c.radius), nil
	}
	return mapfile.ExportAll(), nil
}

func (c *exportCmd) export(ctx context.Context, s *mapfile.Store, filter mapfile.ExportFilter) (mapfile.ExportStats, error) {
	file, err := os.Create(c.outputPath)
	if err != nil {
		return mapfile.ExportStats{}, err
	}
	writer := bufio.NewWriter(file)

	bar := progressbar.NewOptions(-1, progressbar.OptionShowIts(), progressbar.OptionShowCount())
	stats, err := s.Export(ctx, writer, filter, mapfile.ExportParams{
		Progress: func(mapfile.ExportStats) { bar.Add(1) },
	})
	bar.Finish()
	fmt.Println()

	if err == nil {
		err = writer.Flush()
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(c.outputPath)
	}
	return stats, err
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.outputPath == "" {
		log.Println("no output path given (-o)")
		return subcommands.ExitUsageError
	}

	s, closeStore, err := c.g.openStore(ctx)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer closeStore()

	filter, err := c.filter(ctx, s)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	stats, err := c.export(ctx, s, filter)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	fmt.Printf("exported %d grids, %d markers (%d skipped)\n", stats.Grids, stats.Markers, stats.Skipped)
	return subcommands.ExitSuccess
}
