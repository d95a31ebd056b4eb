package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/eak1mov/go-worldmap/blob"
	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
	"github.com/eak1mov/go-worldmap/mapfile"
	"github.com/stretchr/testify/require"
)

func TestDeduceBackend(t *testing.T) {
	require.Equal(t, "sqlite", deduceBackend("", "map.sqlite"))
	require.Equal(t, "sqlite", deduceBackend("", "map.db"))
	require.Equal(t, "dir", deduceBackend("", "map"))
	require.Equal(t, "dir", deduceBackend("dir", "map.db"))
}

func TestImportFilter(t *testing.T) {
	for _, policy := range []string{"", "all", "new", "readonly"} {
		filter, err := importFilter(policy)
		require.NoError(t, err)
		require.NotNil(t, filter)
	}
	_, err := importFilter("some")
	require.Error(t, err)
}

func TestZoomCoords(t *testing.T) {
	coords := []grid.Coord{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 1}, {X: -1, Y: -1}}
	plan := zoomCoords(coords, 2)
	require.Len(t, plan, 2)
	require.ElementsMatch(t, []grid.Coord{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: -1, Y: -1}}, plan[0])
	require.ElementsMatch(t, []grid.Coord{{X: 0, Y: 0}, {X: -1, Y: -1}}, plan[1])
}

func TestCopyBlobs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	src, err := openBlobs("", filepath.Join(dir, "src"), nil)
	require.NoError(t, err)
	defer src.Close()
	for key, data := range map[string]string{
		codec.IndexKey:      "index",
		codec.GridKey(1):    "grid",
		codec.SegmentKey(2): "segment",
		codec.InfoKey(1):    "info",
	} {
		require.NoError(t, blob.WriteAll(ctx, src, key, []byte(data)))
	}

	dst, err := openBlobs("", filepath.Join(dir, "dst.sqlite"), nil)
	require.NoError(t, err)
	defer dst.Close()

	calls := 0
	n, err := copyBlobs(ctx, src, dst, func() { calls++ })
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, 4, calls)

	for _, key := range []string{codec.IndexKey, codec.GridKey(1), codec.SegmentKey(2), codec.InfoKey(1)} {
		srcData, err := blob.ReadAll(ctx, src, key)
		require.NoError(t, err)
		dstData, err := blob.ReadAll(ctx, dst, key)
		require.NoError(t, err)
		require.Equal(t, srcData, dstData)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	g := &globals{storePath: filepath.Join(t.TempDir(), "map")}
	g.setupLogging()

	s, closeStore, err := g.openStore(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Read(ctx, func(tx *mapfile.ReadTx) error {
		require.Empty(t, tx.Segments())
		return nil
	}))

	// The directory stays owned until the store is closed.
	_, _, err = g.openStore(ctx)
	require.ErrorIs(t, err, blob.ErrBusy)
	closeStore()

	_, closeStore, err = g.openStore(ctx)
	require.NoError(t, err)
	closeStore()
}
