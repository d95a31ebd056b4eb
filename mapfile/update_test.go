package mapfile_test

import (
	"context"
	"image/color"
	"testing"

	"github.com/eak1mov/go-worldmap/blob"
	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
	"github.com/eak1mov/go-worldmap/internal"
	"github.com/eak1mov/go-worldmap/mapfile"
	"github.com/eak1mov/go-worldmap/marker"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestUpdateNewGrid(t *testing.T) {
	bs := internal.NewCountingStore()
	s := openStore(t, bs)

	update(t, s, internal.StripedLiveGrid(0x1234, grid.Coord{X: 0, Y: 0}, 7))

	segs := segments(t, s)
	require.Len(t, segs, 1)
	require.NotZero(t, segs[0])
	require.Equal(t, map[grid.Coord]uint64{{X: 0, Y: 0}: 0x1234}, layout(t, s, segs[0]))
	require.Equal(t, codec.GridInfo{ID: 0x1234, Seg: segs[0], SC: grid.Coord{}}, gridInfo(t, s, 0x1234))
	require.ElementsMatch(t, []string{
		codec.GridKey(0x1234),
		codec.InfoKey(0x1234),
		codec.SegmentKey(segs[0]),
		codec.IndexKey,
	}, bs.Written())

	writes := bs.Mutations()
	update(t, s, internal.StripedLiveGrid(0x1234, grid.Coord{X: 0, Y: 0}, 7))
	require.Equal(t, writes, bs.Mutations())
	require.Equal(t, segs, segments(t, s))
}

func TestUpdateUnchangedAfterRestart(t *testing.T) {
	bs := internal.NewCountingStore()
	s := openStore(t, bs)
	update(t, s, internal.StripedLiveGrid(1, grid.Coord{X: 3, Y: 3}, 1))
	require.NoError(t, s.Close())

	writes := bs.Mutations()
	s = openStore(t, bs)
	update(t, s, internal.StripedLiveGrid(1, grid.Coord{X: 3, Y: 3}, 2))
	require.Equal(t, writes, bs.Mutations())

	seg := segments(t, s)[0]
	g := loadGrid(t, s, seg, grid.Coord{X: 3, Y: 3})
	require.NoError(t, s.Read(context.Background(), func(tx *mapfile.ReadTx) error {
		sg, err := tx.Segment(seg)
		require.NoError(t, err)
		seq, ok := sg.GridSeq(tx, grid.Coord{X: 3, Y: 3})
		require.True(t, ok)
		require.Equal(t, 2, seq)
		require.Equal(t, 2, g.Seq)
		return nil
	}))
}

func TestUpdateChangedGrid(t *testing.T) {
	s := openStore(t, blob.NewMem())
	update(t, s,
		internal.StripedLiveGrid(1, grid.Coord{X: 0, Y: 0}, 1),
		internal.StripedLiveGrid(2, grid.Coord{X: 1, Y: 0}, 1))
	seg := segments(t, s)[0]

	// A session with another frame sees grid 2 flooded and a new grid 3 next to it.
	update(t, s,
		internal.FilledLiveGrid(2, grid.Coord{X: 11, Y: 5}, 2, internal.Water, 4),
		internal.FilledLiveGrid(3, grid.Coord{X: 12, Y: 5}, 1, internal.Water, 4))

	require.Equal(t, []uint64{seg}, segments(t, s))
	require.Equal(t, map[grid.Coord]uint64{
		{X: 0, Y: 0}: 1,
		{X: 1, Y: 0}: 2,
		{X: 2, Y: 0}: 3,
	}, layout(t, s, seg))

	g := loadGrid(t, s, seg, grid.Coord{X: 1, Y: 0})
	require.Equal(t, internal.Info(internal.Water), g.Tile(grid.Coord{X: 10, Y: 10}))
	require.Equal(t, int32(4), g.Height(grid.Coord{X: 10, Y: 10}))
	requireConsistent(t, s)
}

func TestUpdateKeepsNoReplaceTiles(t *testing.T) {
	s := openStore(t, blob.NewMem())
	plot := func(c grid.Coord) int {
		if c.X < 10 {
			return internal.Plot
		}
		return internal.Grass
	}
	update(t, s, internal.LiveGrid(1, grid.Coord{}, 1, plot, func(grid.Coord) int32 { return 1 }))
	seg := segments(t, s)[0]

	update(t, s, internal.LiveGrid(1, grid.Coord{}, 2,
		func(c grid.Coord) int {
			if c.X < 20 {
				return internal.Floor
			}
			return internal.Dirt
		},
		func(grid.Coord) int32 { return 2 }))

	g := loadGrid(t, s, seg, grid.Coord{})
	require.Equal(t, internal.Info(internal.Plot), g.Tile(grid.Coord{X: 5, Y: 5}))
	require.Equal(t, internal.Info(internal.Grass), g.Tile(grid.Coord{X: 15, Y: 5}))
	require.Equal(t, internal.Info(internal.Dirt), g.Tile(grid.Coord{X: 50, Y: 5}))
}

func TestUpdateUnknownTileset(t *testing.T) {
	s := openStore(t, blob.NewMem())
	lg := internal.FilledLiveGrid(1, grid.Coord{}, 1, 42, 0)
	require.NoError(t, s.Update(internal.TestTilesets, lg))
	require.ErrorIs(t, s.Sync(context.Background()), grid.ErrUnknownTileset)
	require.NoError(t, s.Sync(context.Background()))
}

func TestUpdateMergesSmallerSegment(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, blob.NewMem())

	update(t, s, internal.StripedLiveGrid(1, grid.Coord{X: 0, Y: 0}, 1))
	a := segments(t, s)[0]
	camp := marker.NewPlain(a, grid.Coord{X: 50, Y: 50}, "camp", color.RGBA{B: 255, A: 255})
	require.NoError(t, s.Write(ctx, func(tx *mapfile.WriteTx) error {
		tx.AddMarker(camp)
		return nil
	}))

	update(t, s,
		internal.StripedLiveGrid(2, grid.Coord{X: 10, Y: 0}, 1),
		internal.StripedLiveGrid(3, grid.Coord{X: 11, Y: 0}, 1),
		internal.StripedLiveGrid(4, grid.Coord{X: 12, Y: 0}, 1))
	var b uint64
	for _, id := range segments(t, s) {
		if id != a {
			b = id
		}
	}
	require.NotZero(t, b)

	// Grid 5 sits between grid 1 of A and grid 2 of B.
	update(t, s,
		internal.StripedLiveGrid(1, grid.Coord{X: 5, Y: 5}, 1),
		internal.StripedLiveGrid(5, grid.Coord{X: 6, Y: 5}, 1),
		internal.StripedLiveGrid(2, grid.Coord{X: 7, Y: 5}, 1))

	require.Equal(t, []uint64{b}, segments(t, s))
	require.Equal(t, map[grid.Coord]uint64{
		{X: 8, Y: 0}:  1,
		{X: 9, Y: 0}:  5,
		{X: 10, Y: 0}: 2,
		{X: 11, Y: 0}: 3,
		{X: 12, Y: 0}: 4,
	}, layout(t, s, b))
	requireConsistent(t, s)

	want := marker.NewPlain(b, grid.Coord{X: 850, Y: 50}, "camp", color.RGBA{B: 255, A: 255})
	require.Equal(t, []*marker.Marker{want}, markers(t, s))
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, blob.NewMem())

	update(t, s, internal.StripedLiveGrid(1, grid.Coord{X: 0, Y: 0}, 1), internal.StripedLiveGrid(2, grid.Coord{X: 0, Y: 1}, 1))
	src := segments(t, s)[0]
	update(t, s, internal.StripedLiveGrid(3, grid.Coord{X: 0, Y: 0}, 1))
	var dst uint64
	for _, id := range segments(t, s) {
		if id != src {
			dst = id
		}
	}

	before := layout(t, s, src)
	m := marker.NewObject(src, grid.Coord{X: 10, Y: 110}, "well", 7, grid.ResSpec{Name: "gfx/well", Version: 1})
	offset := grid.Coord{X: -2, Y: 3}
	require.NoError(t, s.Write(ctx, func(tx *mapfile.WriteTx) error {
		tx.AddMarker(m)
		require.Error(t, tx.Merge(dst, dst, offset))
		return tx.Merge(dst, src, offset)
	}))
	require.NoError(t, s.Sync(ctx))

	require.Equal(t, []uint64{dst}, segments(t, s))
	after := layout(t, s, dst)
	for c, id := range before {
		require.Equal(t, id, after[c.Sub(offset)], "coordinate %v", c)
	}
	require.Equal(t, uint64(3), after[grid.Coord{}])
	require.Equal(t, []*marker.Marker{m.Moved(dst, offset)}, markers(t, s))
	require.Equal(t, grid.Coord{X: 210, Y: -190}, markers(t, s)[0].TC)
	requireConsistent(t, s)

	err := s.Read(ctx, func(tx *mapfile.ReadTx) error {
		_, err := tx.Segment(src)
		return err
	})
	require.ErrorIs(t, err, mapfile.ErrNotFound)
}

func TestInvalidateGrid(t *testing.T) {
	ctx := context.Background()
	bs := blob.NewMem()
	s := openStore(t, bs)
	update(t, s, internal.StripedLiveGrid(1, grid.Coord{X: 0, Y: 0}, 1), internal.StripedLiveGrid(2, grid.Coord{X: 1, Y: 0}, 1))
	seg := segments(t, s)[0]

	require.NoError(t, s.InvalidateGrid(ctx, 2))
	require.NoError(t, s.Sync(ctx))
	require.Equal(t, map[grid.Coord]uint64{{X: 0, Y: 0}: 1}, layout(t, s, seg))
	require.Equal(t, codec.GridInfo{ID: 2, SC: grid.Coord{X: 1, Y: 0}}, gridInfo(t, s, 2))
	require.ErrorIs(t, s.InvalidateGrid(ctx, 2), mapfile.ErrNotFound)

	// The orphaned grid is placed again when observed.
	update(t, s, internal.StripedLiveGrid(1, grid.Coord{X: 0, Y: 0}, 1), internal.StripedLiveGrid(2, grid.Coord{X: 1, Y: 0}, 1))
	if diff := cmp.Diff(map[grid.Coord]uint64{{X: 0, Y: 0}: 1, {X: 1, Y: 0}: 2}, layout(t, s, seg)); diff != "" {
		t.Errorf("layout mismatch (-want+got):\n%v", diff)
	}
	requireConsistent(t, s)
}

func TestGridHandleResolvedByInclude(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, blob.NewMem())
	update(t, s, internal.StripedLiveGrid(1, grid.Coord{X: 0, Y: 0}, 1))
	seg := segments(t, s)[0]

	var h interface {
		Poll() (*grid.Grid, bool, error)
		Get(context.Context) (*grid.Grid, error)
	}
	require.NoError(t, s.Read(ctx, func(tx *mapfile.ReadTx) error {
		sg, err := tx.Segment(seg)
		if err != nil {
			return err
		}
		h = sg.Grid(tx, grid.Coord{X: 1, Y: 0})
		_, ok := sg.TileName(tx, grid.Coord{X: 150, Y: 0})
		require.False(t, ok)
		return nil
	}))
	_, ready, err := h.Poll()
	require.False(t, ready)
	require.NoError(t, err)

	update(t, s, internal.StripedLiveGrid(1, grid.Coord{X: 0, Y: 0}, 1), internal.FilledLiveGrid(2, grid.Coord{X: 1, Y: 0}, 1, internal.Water, 0))
	g, err := h.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), g.ID)

	require.NoError(t, s.Read(ctx, func(tx *mapfile.ReadTx) error {
		sg, err := tx.Segment(seg)
		if err != nil {
			return err
		}
		name, ok := sg.TileName(tx, grid.Coord{X: 150, Y: 0})
		require.True(t, ok)
		require.Equal(t, "gfx/tiles/water", name)
		return nil
	}))
}
