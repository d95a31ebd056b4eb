package grid

import "fmt"

// Coord is a 2-D integer coordinate. Depending on context it addresses a grid
// inside a segment, a tile inside a grid, or a tile inside a segment.
type Coord struct {
	X int
	Y int
}

func (c Coord) Add(o Coord) Coord { return Coord{c.X + o.X, c.Y + o.Y} }
func (c Coord) Sub(o Coord) Coord { return Coord{c.X - o.X, c.Y - o.Y} }
func (c Coord) Mul(o Coord) Coord { return Coord{c.X * o.X, c.Y * o.Y} }
func (c Coord) Scale(n int) Coord { return Coord{c.X * n, c.Y * n} }

// Div divides both components by n, rounding towards negative infinity.
func (c Coord) Div(n int) Coord { return Coord{floorDiv(c.X, n), floorDiv(c.Y, n)} }

// DivC is the per-component version of Div.
func (c Coord) DivC(o Coord) Coord { return Coord{floorDiv(c.X, o.X), floorDiv(c.Y, o.Y)} }

// ModC returns the non-negative per-component remainder matching DivC.
func (c Coord) ModC(o Coord) Coord { return c.Sub(c.DivC(o).Mul(o)) }

// Dist returns the Chebyshev distance between two coordinates.
func (c Coord) Dist(o Coord) int {
	return max(abs(c.X-o.X), abs(c.Y-o.Y))
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d, %d)", c.X, c.Y)
}

func floorDiv(a, n int) int {
	q := a / n
	if (a%n != 0) && ((a < 0) != (n < 0)) {
		q--
	}
	return q
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
