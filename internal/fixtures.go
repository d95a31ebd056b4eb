// Package internal holds fixtures shared by the package tests.
package internal

import "github.com/eak1mov/go-worldmap/grid"

// Tilesets is a map-backed global tile-type alphabet.
type Tilesets map[int]grid.Tileset

func (t Tilesets) Tileset(id int) (grid.Tileset, bool) {
	set, ok := t[id]
	return set, ok
}

const (
	Grass = iota
	Water
	Dirt
	Plot
	Floor
)

var TestTilesets = Tilesets{
	Grass: {TileInfo: info("gfx/tiles/grass", 1, 1)},
	Water: {TileInfo: info("gfx/tiles/water", 2, 0)},
	Dirt:  {TileInfo: info("gfx/tiles/dirt", 1, 2)},
	Plot:  {TileInfo: info("gfx/tiles/plot", 3, 5), NoReplace: true},
	Floor: {TileInfo: info("gfx/tiles/floor", 1, 6), NoReplace: true},
}

func info(name string, ver uint16, prio uint8) grid.TileInfo {
	return grid.TileInfo{Res: grid.ResSpec{Name: name, Version: ver}, Prio: prio}
}

// Info returns the palette entry of a global test tile type.
func Info(t int) grid.TileInfo {
	return TestTilesets[t].TileInfo
}

// LiveGrid builds a live grid whose tiles and heights are computed per position.
func LiveGrid(id uint64, gc grid.Coord, seq int, tile func(grid.Coord) int, height func(grid.Coord) int32) *grid.LiveGrid {
	lg := &grid.LiveGrid{
		ID:      id,
		GC:      gc,
		Seq:     seq,
		Tiles:   make([]int, grid.Area),
		Heights: make([]int32, grid.Area),
	}
	for c := range grid.Positions(grid.Size) {
		i := grid.Index(c)
		lg.Tiles[i] = tile(c)
		lg.Heights[i] = height(c)
	}
	return lg
}

// FilledLiveGrid builds a live grid of a single tile type and height.
func FilledLiveGrid(id uint64, gc grid.Coord, seq int, t int, h int32) *grid.LiveGrid {
	return LiveGrid(id, gc, seq,
		func(grid.Coord) int { return t },
		func(grid.Coord) int32 { return h })
}

// StripedLiveGrid alternates grass and dirt columns with a height gradient.
func StripedLiveGrid(id uint64, gc grid.Coord, seq int) *grid.LiveGrid {
	return LiveGrid(id, gc, seq,
		func(c grid.Coord) int {
			if c.X%2 == 0 {
				return Grass
			}
			return Dirt
		},
		func(c grid.Coord) int32 { return int32(c.X + c.Y) })
}
