package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/eak1mov/go-worldmap/mapfile"
	"github.com/eak1mov/go-worldmap/marker"
	"github.com/google/subcommands"
)

type segmentsCmd struct {
	g *globals
}

func (c *segmentsCmd) Name() string             { return "segments" }
func (c *segmentsCmd) Synopsis() string         { return "list segments and their grid counts" }
func (c *segmentsCmd) Usage() string            { return "worldmap -store <path> segments\n" }
func (c *segmentsCmd) SetFlags(f *flag.FlagSet) {}

func (c *segmentsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	s, closeStore, err := c.g.openStore(ctx)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer closeStore()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SEGMENT\tGRIDS")
	err = s.Read(ctx, func(tx *mapfile.ReadTx) error {
		for _, id := range tx.Segments() {
			seg, err := tx.Segment(id)
			if err != nil {
				log.Printf("segment %x: %v", id, err)
				continue
			}
			fmt.Fprintf(w, "%x\t%d\n", id, seg.Len(tx))
		}
		return nil
	})
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type markersCmd struct {
	g *globals

	segment string
}

func (c *markersCmd) Name() string     { return "markers" }
func (c *markersCmd) Synopsis() string { return "list markers" }
func (c *markersCmd) Usage() string {
	return "worldmap -store <path> markers [-seg <id>]\n"
}
func (c *markersCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.segment, "seg", "", "List only markers of this segment (hex id)")
}

func (c *markersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	var only uint64
	if c.segment != "" {
		id, err := parseID(c.segment)
		if err != nil {
			log.Println(err)
			return subcommands.ExitUsageError
		}
		only = id
	}

	s, closeStore, err := c.g.openStore(ctx)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer closeStore()

	var markers []*marker.Marker
	err = s.Read(ctx, func(tx *mapfile.ReadTx) error {
		markers = tx.Markers()
		return nil
	})
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "SEGMENT\tTILE\tKIND\tNAME")
	for _, m := range markers {
		if only != 0 && m.Seg != only {
			continue
		}
		fmt.Fprintf(w, "%x\t%v\t%c\t%s\n", m.Seg, m.TC, m.Kind, m.Name)
	}
	w.Flush()
	return subcommands.ExitSuccess
}
