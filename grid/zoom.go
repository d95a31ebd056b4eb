package grid

// ZoomGrid is a grid at a reduced resolution. A zoom grid of level L at
// coordinate SC covers the 2^L x 2^L block of level-0 grids starting at
// SC*2^L. Level 0 is never a ZoomGrid.
type ZoomGrid struct {
	DataGrid
	Seg   uint64
	Level int
	SC    Coord
}

// Children returns the coordinates of the four level-1-lower sources of the
// zoom grid at sc, in quadrant order (0,0), (1,0), (0,1), (1,1).
func Children(sc Coord) [4]Coord {
	base := sc.Scale(2)
	return [4]Coord{
		base,
		base.Add(Coord{1, 0}),
		base.Add(Coord{0, 1}),
		base.Add(Coord{1, 1}),
	}
}

// ZoomCoord returns the coordinate of the level lvl zoom grid covering the
// level-0 grid at sc.
func ZoomCoord(sc Coord, lvl int) Coord {
	return sc.Div(1 << lvl)
}

// BuildZoom downsamples four source grids into one zoom grid. Missing sources
// render as NoTile with unknown height. Each destination tile takes the most
// frequent tileset among its 2x2 source block, the first one encountered on
// ties, and the maximum height of the block.
//
// The unified palette is built in first-seen order across the quadrants,
// deduplicated by tileset name; it does not try to reconcile priorities.
func BuildZoom(seg uint64, lvl int, sc Coord, quads [4]*DataGrid) *ZoomGrid {
	zg := &ZoomGrid{
		DataGrid: DataGrid{
			Tiles:   make([]byte, Area),
			Heights: make([]int32, Area),
		},
		Seg:   seg,
		Level: lvl,
		SC:    sc,
	}

	byName := make(map[string]byte)
	intern := func(set TileInfo) byte {
		if idx, ok := byName[set.Res.Name]; ok {
			return idx
		}
		// The last free slot is kept for NoTile, which replaces whatever
		// does not fit.
		room := MaxTilesets - len(zg.Tilesets)
		_, blank := byName[NoTile.Res.Name]
		if !blank && set.Res.Name != NoTile.Res.Name {
			room--
		}
		if room <= 0 {
			if idx, ok := byName[NoTile.Res.Name]; ok {
				return idx
			}
			set = NoTile
		}
		idx := byte(len(zg.Tilesets))
		byName[set.Res.Name] = idx
		zg.Tilesets = append(zg.Tilesets, set)
		return idx
	}

	half := Size.Div(2)
	for q, src := range quads {
		origin := Coord{q % 2, q / 2}.Mul(half)

		if src == nil {
			blank := intern(NoTile)
			for c := range Positions(half) {
				i := Index(origin.Add(c))
				zg.Tiles[i] = blank
				zg.Heights[i] = HeightUnknown
			}
			continue
		}

		zg.MTime = max(zg.MTime, src.MTime)
		remap := make([]byte, len(src.Tilesets))
		for i, set := range src.Tilesets {
			remap[i] = intern(set)
		}

		for c := range Positions(half) {
			base := c.Scale(2)
			var block [4]byte
			height := HeightUnknown
			for k, sub := range [4]Coord{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
				si := Index(base.Add(sub))
				block[k] = remap[src.Tiles[si]]
				height = max(height, src.Heights[si])
			}
			i := Index(origin.Add(c))
			zg.Tiles[i] = majority(block)
			zg.Heights[i] = height
		}
	}

	return zg
}

func majority(block [4]byte) byte {
	best, bestCount := block[0], 0
	for i, t := range block {
		count := 0
		for _, u := range block[i:] {
			if u == t {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = t, count
		}
	}
	return best
}
