// Package grid provides the map tile data types: fixed-size tile grids with a
// per-grid tileset palette, and the derived zoom grids built from them.
package grid

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// Size is the extent of one grid in tiles.
var Size = Coord{X: 100, Y: 100}

// Area is the number of tiles in one grid.
const Area = 100 * 100

// MaxTilesets is the largest palette a single grid can carry.
const MaxTilesets = 256

// HeightUnknown marks a tile whose height was never measured.
const HeightUnknown int32 = math.MinInt32

var (
	ErrUnknownTileset = errors.New("worldmap: unknown tileset")
	ErrPaletteFull    = errors.New("worldmap: palette exceeds 256 tilesets")
	ErrInvalidGrid    = errors.New("worldmap: invalid grid data")
)

// ResSpec names a versioned tileset resource.
type ResSpec struct {
	Name    string
	Version uint16
}

// TileInfo is one palette entry of a grid.
type TileInfo struct {
	Res  ResSpec
	Prio uint8
}

// NoTile is the palette entry used for areas without data.
var NoTile = TileInfo{}

// DataGrid holds the tile and height contents shared by Grid and ZoomGrid.
type DataGrid struct {
	Tilesets []TileInfo
	Tiles    []byte  // Area entries, each an index into Tilesets
	Heights  []int32 // Area entries
	MTime    int64   // unix milliseconds
}

// Index returns the position of tile c inside Tiles and Heights.
func Index(c Coord) int {
	return c.X + c.Y*Size.X
}

// Tile returns the palette entry of the tile at c.
func (g *DataGrid) Tile(c Coord) TileInfo {
	return g.Tilesets[g.Tiles[Index(c)]]
}

func (g *DataGrid) Height(c Coord) int32 {
	return g.Heights[Index(c)]
}

// Validate checks the array sizes and that every tile indexes the palette.
func (g *DataGrid) Validate() error {
	if len(g.Tilesets) > MaxTilesets {
		return ErrPaletteFull
	}
	if len(g.Tiles) != Area || len(g.Heights) != Area {
		return fmt.Errorf("%w: %d tiles, %d heights", ErrInvalidGrid, len(g.Tiles), len(g.Heights))
	}
	for i, t := range g.Tiles {
		if int(t) >= len(g.Tilesets) {
			return fmt.Errorf("%w: tile %d references palette entry %d of %d", ErrInvalidGrid, i, t, len(g.Tilesets))
		}
	}
	return nil
}

// HeightsKnown reports whether every tile has a measured height.
func (g *DataGrid) HeightsKnown() bool {
	return !slices.Contains(g.Heights, HeightUnknown)
}

// SameContent reports whether both grids resolve to the same tileset and
// height at every position. Palette order is not significant.
func (g *DataGrid) SameContent(o *DataGrid) bool {
	if !slices.Equal(g.Heights, o.Heights) {
		return false
	}
	for i := range g.Tiles {
		if g.Tilesets[g.Tiles[i]] != o.Tilesets[o.Tiles[i]] {
			return false
		}
	}
	return true
}

// Grid is a level-0 grid with a stable identity.
type Grid struct {
	DataGrid
	ID uint64

	// Seq is the update sequence of the live grid this grid was derived from.
	// It is not persisted; grids loaded from storage carry SeqUnknown.
	Seq int

	// NoRepl flags palette entries whose tiles are kept from the previous
	// version of the grid on re-observation (see MergePrev).
	NoRepl []bool
}

const SeqUnknown = -1

func (g *Grid) noRepl(t byte) bool {
	return int(t) < len(g.NoRepl) && g.NoRepl[t]
}

// Tileset is an entry of the global tile-type alphabet used by the live session.
type Tileset struct {
	TileInfo
	NoReplace bool
}

// Tilesets resolves global tile-type ids.
type Tilesets interface {
	Tileset(t int) (Tileset, bool)
}

// LiveGrid is a grid as currently observed by the live session.
type LiveGrid struct {
	ID      uint64
	GC      Coord // coordinate in the session's own frame
	Seq     int
	Tiles   []int   // global tile-type ids, Area entries
	Heights []int32 // Area entries, nil if heights are unavailable
}

// From remaps a live grid onto a compact per-grid palette in first-seen order.
func From(lg *LiveGrid, ts Tilesets) (*Grid, error) {
	if len(lg.Tiles) != Area || (lg.Heights != nil && len(lg.Heights) != Area) {
		return nil, fmt.Errorf("%w: live grid %x", ErrInvalidGrid, lg.ID)
	}

	g := &Grid{
		DataGrid: DataGrid{
			Tiles:   make([]byte, Area),
			Heights: make([]int32, Area),
			MTime:   time.Now().UnixMilli(),
		},
		ID:  lg.ID,
		Seq: lg.Seq,
	}

	palette := make(map[int]byte)
	for i, t := range lg.Tiles {
		idx, ok := palette[t]
		if !ok {
			set, found := ts.Tileset(t)
			if !found {
				return nil, fmt.Errorf("%w: %d", ErrUnknownTileset, t)
			}
			if len(g.Tilesets) == MaxTilesets {
				return nil, ErrPaletteFull
			}
			idx = byte(len(g.Tilesets))
			palette[t] = idx
			g.Tilesets = append(g.Tilesets, set.TileInfo)
			g.NoRepl = append(g.NoRepl, set.NoReplace)
		}
		g.Tiles[i] = idx
	}

	if lg.Heights != nil {
		copy(g.Heights, lg.Heights)
	} else {
		for i := range g.Heights {
			g.Heights[i] = HeightUnknown
		}
	}

	return g, nil
}

// MergePrev carries data over from the previous version of a grid: tiles whose
// new tileset is flagged no-replace take the previous tile, and unknown heights
// take the previous height. ng is returned as is when nothing is carried over.
func MergePrev(ng, prev *Grid) *Grid {
	if prev == nil {
		return ng
	}

	var ret *Grid
	var byName map[string]byte
	clone := func() {
		if ret != nil {
			return
		}
		ret = &Grid{
			DataGrid: DataGrid{
				Tilesets: slices.Clone(ng.Tilesets),
				Tiles:    slices.Clone(ng.Tiles),
				Heights:  slices.Clone(ng.Heights),
				MTime:    ng.MTime,
			},
			ID:     ng.ID,
			Seq:    ng.Seq,
			NoRepl: slices.Clone(ng.NoRepl),
		}
		for len(ret.NoRepl) < len(ret.Tilesets) {
			ret.NoRepl = append(ret.NoRepl, false)
		}
		byName = make(map[string]byte, len(ret.Tilesets))
		for i, set := range ret.Tilesets {
			if _, ok := byName[set.Res.Name]; !ok {
				byName[set.Res.Name] = byte(i)
			}
		}
	}

	for i, t := range ng.Tiles {
		if pset := prev.Tilesets[prev.Tiles[i]]; ng.noRepl(t) && pset != ng.Tilesets[t] {
			clone()
			idx, ok := byName[pset.Res.Name]
			if !ok && len(ret.Tilesets) < MaxTilesets {
				idx, ok = byte(len(ret.Tilesets)), true
				byName[pset.Res.Name] = idx
				ret.Tilesets = append(ret.Tilesets, pset)
				ret.NoRepl = append(ret.NoRepl, false)
			}
			if ok {
				ret.Tiles[i] = idx
			}
		}
		if ng.Heights[i] == HeightUnknown && prev.Heights[i] != HeightUnknown {
			clone()
			ret.Heights[i] = prev.Heights[i]
		}
	}

	if ret == nil {
		return ng
	}
	return ret
}
