package grid

import "iter"

// Positions returns an iterator over all coordinates of a rectangle of the
// given size, row by row.
func Positions(size Coord) iter.Seq[Coord] {
	return func(yield func(Coord) bool) {
		for y := range size.Y {
			for x := range size.X {
				if !yield(Coord{x, y}) {
					return
				}
			}
		}
	}
}

// Cells returns an iterator over every tile of the grid with its palette entry.
func (g *DataGrid) Cells() iter.Seq2[Coord, TileInfo] {
	return func(yield func(Coord, TileInfo) bool) {
		for c := range Positions(Size) {
			if !yield(c, g.Tile(c)) {
				return
			}
		}
	}
}
