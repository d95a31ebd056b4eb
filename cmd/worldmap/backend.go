package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/eak1mov/go-worldmap/blob"
	"github.com/eak1mov/go-worldmap/config"
	"github.com/eak1mov/go-worldmap/dirblob"
	"github.com/eak1mov/go-worldmap/mapfile"
	"github.com/eak1mov/go-worldmap/sqlblob"
	"gopkg.in/natefinch/lumberjack.v2"
)

// globals are the flags shared by every command.
type globals struct {
	storePath   string
	backend     string
	configPath  string
	logFilePath string
	verbose     bool

	logger *slog.Logger
}

func (g *globals) SetFlags(f *flag.FlagSet) {
	f.StringVar(&g.storePath, "store", "", "Map store path")
	f.StringVar(&g.backend, "backend", "", "Map store backend (dir, sqlite)")
	f.StringVar(&g.configPath, "config", "", "YAML config file path")
	f.StringVar(&g.logFilePath, "logfile", "", "Log file path (default stderr)")
	f.BoolVar(&g.verbose, "v", false, "Log debug messages")
}

func (g *globals) setupLogging() func() {
	var w io.Writer = os.Stderr
	closer := func() {}
	if g.logFilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   g.logFilePath,
			MaxSize:    16, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		w = lj
		closer = func() { lj.Close() }
	}

	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	g.logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(g.logger)
	return closer
}

func deduceBackend(backend, storePath string) string {
	if backend == "" && (strings.HasSuffix(storePath, ".sqlite") || strings.HasSuffix(storePath, ".db")) {
		return "sqlite"
	}
	if backend == "" {
		return "dir"
	}
	return backend
}

type blobStore interface {
	blob.Store
	io.Closer
	VisitKeys(visitor func(key string) error) error
}

func openBlobs(backend, storePath string, logger *slog.Logger) (blobStore, error) {
	if storePath == "" {
		return nil, errors.New("no store path given (-store)")
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch deduceBackend(backend, storePath) {
	case "dir":
		return dirblob.Open(storePath)
	case "sqlite":
		return sqlblob.Open(storePath, sqlblob.WithLogger(logger))
	default:
		return nil, fmt.Errorf("invalid backend: %q", backend)
	}
}

func (g *globals) loadConfig() (config.Config, error) {
	if g.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(g.configPath)
}

// openStore opens the map store named by the global flags. The returned
// function closes it.
func (g *globals) openStore(ctx context.Context) (*mapfile.Store, func(), error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	blobs, err := openBlobs(g.backend, g.storePath, g.logger)
	if err != nil {
		return nil, nil, err
	}
	s, err := mapfile.Open(ctx, blobs, mapfile.WithConfig(cfg), mapfile.WithLogger(g.logger))
	if err != nil {
		blobs.Close()
		return nil, nil, err
	}
	closer := func() {
		if err := s.Close(); err != nil {
			log.Println(err)
		}
		if err := blobs.Close(); err != nil {
			log.Println(err)
		}
	}
	return s, closer, nil
}

func parseID(s string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscanf(s, "%x", &id); err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}
