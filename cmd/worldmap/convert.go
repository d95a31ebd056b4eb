package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/eak1mov/go-worldmap/blob"
	"github.com/eak1mov/go-worldmap/codec"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"
)

type convertCmd struct {
	g *globals

	outputBackend string
	outputPath    string
}

func (c *convertCmd) Name() string     { return "convert" }
func (c *convertCmd) Synopsis() string { return "copy a map store to another backend" }
func (c *convertCmd) Usage() string {
	return "worldmap -store <path> convert -o <path> [-ob <backend>]\n"
}
func (c *convertCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.outputPath, "o", "", "Output store path")
	f.StringVar(&c.outputBackend, "ob", "", "Output backend (dir, sqlite)")
}

// copyBlobs copies every blob of src to dst, the index last, so that an
// interrupted copy is not mistaken for a complete store.
func copyBlobs(ctx context.Context, src blobStore, dst blob.Store, progress func()) (int, error) {
	n := 0
	indexed := false
	err := src.VisitKeys(func(key string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if key == codec.IndexKey {
			indexed = true
			return nil
		}
		if err := copyBlob(ctx, src, dst, key); err != nil {
			return err
		}
		n++
		progress()
		return nil
	})
	if err != nil || !indexed {
		return n, err
	}
	if err := copyBlob(ctx, src, dst, codec.IndexKey); err != nil {
		return n, err
	}
	progress()
	return n + 1, nil
}

func copyBlob(ctx context.Context, src, dst blob.Store, key string) error {
	data, err := blob.ReadAll(ctx, src, key)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := blob.WriteAll(ctx, dst, key, data); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func (c *convertCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	src, err := openBlobs(c.g.backend, c.g.storePath, c.g.logger)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer src.Close()

	dst, err := openBlobs(c.outputBackend, c.outputPath, c.g.logger)
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	defer dst.Close()

	bar := progressbar.NewOptions(-1, progressbar.OptionShowIts(), progressbar.OptionShowCount())
	n, err := copyBlobs(ctx, src, dst, func() { bar.Add(1) })
	bar.Finish()
	fmt.Println()

	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}

	fmt.Printf("copied %d blobs\n", n)
	return subcommands.ExitSuccess
}
