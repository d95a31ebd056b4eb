package mapfile_test

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"slices"
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

type streamRecord struct {
	Grid   uint64
	Seg    uint64
	SC     grid.Coord
	Marker string
}

func readStream(t *testing.T, data []byte) []streamRecord {
	t.Helper()
	sr, err := codec.NewStreamReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer sr.Close()

	var ret []streamRecord
	for {
		tag, payload, err := sr.Next()
		if errors.Is(err, io.EOF) {
			return ret
		}
		require.NoError(t, err)
		switch tag {
		case codec.TagGrid:
			rec, err := codec.DecodeExportGrid(payload)
			require.NoError(t, err)
			ret = append(ret, streamRecord{Grid: rec.Grid.ID, Seg: rec.Seg, SC: rec.SC})
		case codec.TagMarker:
			m, err := marker.Decode(payload)
			require.NoError(t, err)
			ret = append(ret, streamRecord{Seg: m.Seg, SC: m.TC, Marker: m.Name})
		default:
			t.Fatalf("unexpected record %q", tag)
		}
	}
}

func export(t *testing.T, s *mapfile.Store, filter mapfile.ExportFilter) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := s.Export(context.Background(), &buf, filter, mapfile.ExportParams{})
	require.NoError(t, err)
	return buf.Bytes()
}

// stream builds an export stream of filled grids placed on foreign segments.
func stream(t *testing.T, recs ...streamRecord) []byte {
	t.Helper()
	var buf bytes.Buffer
	sw, err := codec.NewStreamWriter(&buf)
	require.NoError(t, err)
	for _, rec := range recs {
		if rec.Marker != "" {
			payload, err := marker.NewPlain(rec.Seg, rec.SC, rec.Marker, color.RGBA{A: 255}).Encode()
			require.NoError(t, err)
			require.NoError(t, sw.WriteRecord(codec.TagMarker, payload))
			continue
		}
		g, err := grid.From(internal.FilledLiveGrid(rec.Grid, grid.Coord{}, 0, internal.Water, 1), internal.TestTilesets)
		require.NoError(t, err)
		require.NoError(t, sw.WriteRecord(codec.TagGrid, codec.EncodeExportGrid(g, rec.Seg, rec.SC)))
	}
	require.NoError(t, sw.Close())
	return buf.Bytes()
}

func addMarker(t *testing.T, s *mapfile.Store, m *marker.Marker) {
	t.Helper()
	require.NoError(t, s.Write(context.Background(), func(tx *mapfile.WriteTx) error {
		tx.AddMarker(m)
		return nil
	}))
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, blob.NewMem())
	update(t, src,
		internal.StripedLiveGrid(1, grid.Coord{X: 0, Y: 0}, 1),
		internal.FilledLiveGrid(2, grid.Coord{X: 1, Y: 0}, 1, internal.Dirt, 3),
		internal.StripedLiveGrid(3, grid.Coord{X: 0, Y: 1}, 1))
	update(t, src, internal.FilledLiveGrid(10, grid.Coord{X: 7, Y: 7}, 1, internal.Water, 0))
	segs := segments(t, src)
	require.Len(t, segs, 2)
	for _, seg := range segs {
		addMarker(t, src, marker.NewPlain(seg, grid.Coord{X: 42, Y: 17}, "here", color.RGBA{B: 255, A: 255}))
	}

	var progress []mapfile.ExportStats
	var buf bytes.Buffer
	stats, err := src.Export(ctx, &buf, mapfile.ExportAll(), mapfile.ExportParams{
		Progress: func(st mapfile.ExportStats) { progress = append(progress, st) },
	})
	require.NoError(t, err)
	require.Equal(t, mapfile.ExportStats{Grids: 4, Markers: 2}, stats)
	require.Len(t, progress, 6)

	recs := readStream(t, buf.Bytes())
	require.Len(t, recs, 6)
	require.Empty(t, recs[3].Marker)
	require.NotEmpty(t, recs[4].Marker)

	dst := openStore(t, blob.NewMem())
	istats, err := dst.Reimport(ctx, bytes.NewReader(buf.Bytes()), mapfile.ImportAll(), mapfile.ImportParams{})
	require.NoError(t, err)
	require.Equal(t, mapfile.ImportStats{Grids: 4, Markers: 2}, istats)
	require.NoError(t, dst.Sync(ctx))

	require.ElementsMatch(t, segs, segments(t, dst))
	for _, seg := range segs {
		want := layout(t, src, seg)
		if diff := cmp.Diff(want, layout(t, dst, seg)); diff != "" {
			t.Errorf("layout of %x mismatch (-want+got):\n%v", seg, diff)
		}
		for c := range want {
			g := loadGrid(t, dst, seg, c)
			require.True(t, loadGrid(t, src, seg, c).SameContent(&g.DataGrid), "grid at %v", c)
		}
	}
	require.ElementsMatch(t, markers(t, src), markers(t, dst))
	requireConsistent(t, dst)

	// A second pass finds everything in place.
	istats, err = dst.Reimport(ctx, bytes.NewReader(buf.Bytes()), mapfile.ImportNew(), mapfile.ImportParams{})
	require.NoError(t, err)
	require.Equal(t, mapfile.ImportStats{Skipped: 6}, istats)
}

func TestImportReadOnly(t *testing.T) {
	ctx := context.Background()
	bs := internal.NewCountingStore()
	s := openStore(t, bs)
	update(t, s, internal.StripedLiveGrid(1, grid.Coord{}, 1))
	seg := segments(t, s)[0]
	before := bs.Snapshot()
	mutations := bs.Mutations()

	data := stream(t,
		streamRecord{Grid: 1, Seg: 77, SC: grid.Coord{X: 3, Y: 3}},
		streamRecord{Grid: 2, Seg: 77, SC: grid.Coord{X: 4, Y: 3}},
		streamRecord{Grid: 5, Seg: 78, SC: grid.Coord{}},
		streamRecord{Seg: 77, SC: grid.Coord{X: 310, Y: 320}, Marker: "m"},
		streamRecord{Seg: 99, Marker: "stray"})
	stats, err := s.Reimport(ctx, bytes.NewReader(data), mapfile.ImportReadOnly(), mapfile.ImportParams{})
	require.NoError(t, err)
	require.Equal(t, mapfile.ImportStats{Skipped: 4, Errors: 1}, stats)

	require.NoError(t, s.Sync(ctx))
	require.Equal(t, mutations, bs.Mutations())
	require.Equal(t, before, bs.Snapshot())
	require.Equal(t, []uint64{seg}, segments(t, s))
	require.Empty(t, markers(t, s))
}

type abortingFilter struct {
	mapfile.ImportFilter
}

func (abortingFilter) Failed(error) bool { return false }

func TestImportInconsistentOffset(t *testing.T) {
	ctx := context.Background()
	data := stream(t,
		streamRecord{Grid: 2, Seg: 50, SC: grid.Coord{X: 0, Y: 0}},
		streamRecord{Grid: 3, Seg: 50, SC: grid.Coord{X: 5, Y: 0}},
		streamRecord{Grid: 4, Seg: 50, SC: grid.Coord{X: 1, Y: 0}})
	open := func() (*mapfile.Store, uint64) {
		s := openStore(t, blob.NewMem())
		update(t, s, internal.StripedLiveGrid(2, grid.Coord{X: 0, Y: 0}, 1), internal.StripedLiveGrid(3, grid.Coord{X: 1, Y: 0}, 1))
		return s, segments(t, s)[0]
	}

	s, _ := open()
	_, err := s.Reimport(ctx, bytes.NewReader(data), abortingFilter{mapfile.ImportAll()}, mapfile.ImportParams{})
	require.ErrorIs(t, err, mapfile.ErrInconsistentOffset)

	s, seg := open()
	stats, err := s.Reimport(ctx, bytes.NewReader(data), mapfile.ImportAll(), mapfile.ImportParams{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Errors)
	require.Equal(t, 2, stats.Grids)

	// Grid 4 landed at (1, 0) and took it over from grid 3.
	got := layout(t, s, seg)
	require.Equal(t, uint64(2), got[grid.Coord{X: 0, Y: 0}])
	require.Equal(t, uint64(4), got[grid.Coord{X: 1, Y: 0}])
	require.Equal(t, uint64(0), gridInfo(t, s, 3).Seg)
	requireConsistent(t, s)
}

func TestImportMergesSegments(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, blob.NewMem())
	update(t, s, internal.StripedLiveGrid(1, grid.Coord{}, 1))
	a := segments(t, s)[0]
	update(t, s, internal.StripedLiveGrid(2, grid.Coord{X: 0, Y: 0}, 1), internal.StripedLiveGrid(3, grid.Coord{X: 1, Y: 0}, 1))
	b := gridInfo(t, s, 2).Seg
	require.NotEqual(t, a, b)
	addMarker(t, s, marker.NewPlain(a, grid.Coord{X: 20, Y: 30}, "on a", color.RGBA{}))

	data := stream(t,
		streamRecord{Grid: 1, Seg: 9, SC: grid.Coord{X: 0, Y: 0}},
		streamRecord{Grid: 2, Seg: 9, SC: grid.Coord{X: 1, Y: 0}},
		streamRecord{Seg: 9, SC: grid.Coord{X: 150, Y: 50}, Marker: "foreign"})

	stats, err := s.Reimport(ctx, bytes.NewReader(data), mapfile.ImportAll(), mapfile.ImportParams{})
	require.NoError(t, err)
	require.Equal(t, mapfile.ImportStats{Grids: 2, Markers: 1}, stats)
	require.NoError(t, s.Sync(ctx))

	require.Equal(t, []uint64{b}, segments(t, s))
	want := map[grid.Coord]uint64{
		{X: -1, Y: 0}: 1,
		{X: 0, Y: 0}:  2,
		{X: 1, Y: 0}:  3,
	}
	if diff := cmp.Diff(want, layout(t, s, b)); diff != "" {
		t.Errorf("layout mismatch (-want+got):\n%v", diff)
	}
	requireConsistent(t, s)

	var names []string
	for _, m := range markers(t, s) {
		require.Equal(t, b, m.Seg)
		names = append(names, m.Name)
		switch m.Name {
		case "on a":
			require.Equal(t, grid.Coord{X: -80, Y: 30}, m.TC)
		case "foreign":
			require.Equal(t, grid.Coord{X: 50, Y: 50}, m.TC)
		}
	}
	slices.Sort(names)
	require.Equal(t, []string{"foreign", "on a"}, names)
}

func TestImportDeclinedMerge(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, blob.NewMem())
	update(t, s, internal.StripedLiveGrid(1, grid.Coord{}, 1))
	update(t, s, internal.StripedLiveGrid(2, grid.Coord{}, 1))
	before := segments(t, s)

	data := stream(t,
		streamRecord{Grid: 1, Seg: 9, SC: grid.Coord{X: 0, Y: 0}},
		streamRecord{Grid: 2, Seg: 9, SC: grid.Coord{X: 1, Y: 0}})
	stats, err := s.Reimport(ctx, bytes.NewReader(data), noMerge{mapfile.ImportAll()}, mapfile.ImportParams{})
	require.NoError(t, err)
	require.Equal(t, mapfile.ImportStats{Grids: 1, Skipped: 1}, stats)
	require.ElementsMatch(t, before, segments(t, s))
}

type noMerge struct {
	mapfile.ImportFilter
}

func (noMerge) Merge(uint64, uint64) bool { return false }

func TestExportFilters(t *testing.T) {
	s := openStore(t, blob.NewMem())
	var row []*grid.LiveGrid
	for x := range 5 {
		row = append(row, internal.StripedLiveGrid(uint64(x+1), grid.Coord{X: x, Y: 0}, 1))
	}
	update(t, s, row...)
	seg := gridInfo(t, s, 1).Seg
	update(t, s, internal.StripedLiveGrid(20, grid.Coord{}, 1))
	other := gridInfo(t, s, 20).Seg

	near := marker.NewPlain(seg, grid.Coord{X: 150, Y: 50}, "near", color.RGBA{})
	far := marker.NewPlain(seg, grid.Coord{X: 450, Y: 50}, "far", color.RGBA{})
	elsewhere := marker.NewPlain(other, grid.Coord{X: 10, Y: 10}, "elsewhere", color.RGBA{})
	for _, m := range []*marker.Marker{near, far, elsewhere} {
		addMarker(t, s, m)
	}

	collect := func(filter mapfile.ExportFilter) (grids []uint64, names []string) {
		for _, rec := range readStream(t, export(t, s, filter)) {
			if rec.Marker != "" {
				names = append(names, rec.Marker)
			} else {
				grids = append(grids, rec.Grid)
			}
		}
		slices.Sort(grids)
		slices.Sort(names)
		return grids, names
	}

	grids, names := collect(mapfile.ExportNear(near, 1))
	require.Equal(t, []uint64{1, 2, 3}, grids)
	require.Equal(t, []string{"near"}, names)

	grids, names = collect(mapfile.ExportSegment(seg))
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, grids)
	require.Equal(t, []string{"far", "near"}, names)

	grids, names = collect(mapfile.ExportSegment(other))
	require.Equal(t, []uint64{20}, grids)
	require.Equal(t, []string{"elsewhere"}, names)
}

func TestExportInterrupted(t *testing.T) {
	s := openStore(t, blob.NewMem())
	update(t, s,
		internal.StripedLiveGrid(1, grid.Coord{X: 0, Y: 0}, 1),
		internal.StripedLiveGrid(2, grid.Coord{X: 1, Y: 0}, 1),
		internal.StripedLiveGrid(3, grid.Coord{X: 2, Y: 0}, 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var buf bytes.Buffer
	stats, err := s.Export(ctx, &buf, mapfile.ExportAll(), mapfile.ExportParams{
		Progress: func(mapfile.ExportStats) { cancel() },
	})
	require.ErrorIs(t, err, mapfile.ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, stats.Grids)
}
