package grid

import (
	"cmp"
	"math/bits"
	"slices"

	"github.com/google/hilbert"
)

// HilbertOrder sorts coordinates along a Hilbert curve laid over their
// bounding box, so neighbouring grids end up close to each other.
func HilbertOrder(coords []Coord) {
	if len(coords) < 2 {
		return
	}

	lo, hi := coords[0], coords[0]
	for _, c := range coords[1:] {
		lo = Coord{min(lo.X, c.X), min(lo.Y, c.Y)}
		hi = Coord{max(hi.X, c.X), max(hi.Y, c.Y)}
	}
	span := max(hi.X-lo.X, hi.Y-lo.Y) + 1
	n := 1 << bits.Len(uint(span-1))

	// n is a power of two covering the bounding box, so every offset from lo
	// is in range and neither call can fail.
	h, err := hilbert.NewHilbert(n)
	if err != nil {
		panic(err)
	}
	codes := make(map[Coord]int, len(coords))
	for _, c := range coords {
		d := c.Sub(lo)
		t, err := h.MapInverse(d.X, d.Y)
		if err != nil {
			panic(err)
		}
		codes[c] = t
	}

	slices.SortFunc(coords, func(a, b Coord) int {
		return cmp.Compare(codes[a], codes[b])
	})
}
