package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/google/subcommands"
)

func main() {
	var g globals
	g.SetFlags(flag.CommandLine)

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&exportCmd{g: &g}, "")
	subcommands.Register(&importCmd{g: &g}, "")
	subcommands.Register(&segmentsCmd{g: &g}, "")
	subcommands.Register(&markersCmd{g: &g}, "")
	subcommands.Register(&pyramidCmd{g: &g}, "")
	subcommands.Register(&convertCmd{g: &g}, "")

	flag.Parse()
	closeLog := g.setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	status := subcommands.Execute(ctx)
	stop()
	closeLog()
	os.Exit(int(status))
}
