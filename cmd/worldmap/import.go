package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/eak1mov/go-worldmap/mapfile"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
)

type importCmd struct {
	g *globals

	inputPath string
	policy    string
}

func (c *importCmd) Name() string     { return "import" }
func (c *importCmd) Synopsis() string { return "import grids and markers from an export file" }
func (c *importCmd) Usage() string {
	return "worldmap -store <path> import -i <path> [-policy all|new|readonly]\n"
}
func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.inputPath, "i", "", "Input file path")
	f.StringVar(&c.policy, "policy", "all", "What to write: all, new (unknown grids only), readonly (validate)")
}

func importFilter(policy string) (mapfile.ImportFilter, error) {
	switch policy {
	case "all", "":
		return mapfile.ImportAll(), nil
	case "new":
		return mapfile.ImportNew(), nil
	case "readonly":
		return mapfile.ImportReadOnly(), nil
	}
	return nil, fmt.Errorf("invalid import policy: %q", policy)
}

func (c *importCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	filter, err := importFilter(c.policy)
	if err != nil {
		log.Println(err)
		return subcommands.ExitUsageError
	}

	file, err := os.Open(c.inputPath)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer file.Close()

	s, closeStore, err := c.g.openStore(ctx)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer closeStore()

	var total int64 = -1
	if info, err := file.Stat(); err == nil {
		total = info.Size()
	}
	bar := progressbar.DefaultBytes(total, "importing")
	reader := progressbar.NewReader(bufio.NewReader(file), bar)

	stats, err := s.Reimport(ctx, &reader, filter, mapfile.ImportParams{})
	bar.Finish()
	fmt.Println()

	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	if err := s.Sync(ctx); err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	fmt.Printf("imported %d grids, %d markers (%d skipped, %d errors)\n",
		stats.Grids, stats.Markers, stats.Skipped, stats.Errors)
	return subcommands.ExitSuccess
}
