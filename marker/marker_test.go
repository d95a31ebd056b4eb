package marker_test

import (
	"image/color"
	"testing"

	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
	"github.com/eak1mov/go-worldmap/marker"
	"github.com/stretchr/testify/require"
)

func TestMarkerRecord(t *testing.T) {
	for _, m := range []*marker.Marker{
		marker.NewPlain(3, grid.Coord{X: -120, Y: 40}, "camp", color.RGBA{R: 255, A: 255}),
		marker.NewObject(4, grid.Coord{X: 5, Y: 6}, "cave", 0xdead, grid.ResSpec{Name: "gfx/terobjs/mm/cave", Version: 2}),
	} {
		t.Run(m.Name, func(t *testing.T) {
			data, err := m.Encode()
			require.NoError(t, err)
			got, err := marker.Decode(data)
			require.NoError(t, err)
			require.Equal(t, m, got)
		})
	}
}

func TestMarkerInvalidKind(t *testing.T) {
	m := &marker.Marker{Kind: 'x'}
	_, err := m.Encode()
	require.ErrorIs(t, err, marker.ErrInvalidKind)

	data := codec.NewWriter().Uint8(marker.Version).Uint64(1).Coord(grid.Coord{}).String("x").Uint8('x').Bytes()
	_, err = marker.Decode(data)
	require.ErrorIs(t, err, marker.ErrInvalidKind)

	_, err = marker.Decode([]byte{9})
	require.ErrorIs(t, err, codec.ErrInvalidVersion)
}

func TestMarkerMoved(t *testing.T) {
	m := marker.NewPlain(3, grid.Coord{X: 10, Y: 20}, "camp", color.RGBA{})
	moved := m.Moved(7, grid.Coord{X: 1, Y: -2})
	require.Equal(t, uint64(7), moved.Seg)
	require.Equal(t, grid.Coord{X: -90, Y: 220}, moved.TC)
	require.Equal(t, uint64(3), m.Seg)
	require.Equal(t, grid.Coord{X: -1, Y: 2}, moved.GC())
}
