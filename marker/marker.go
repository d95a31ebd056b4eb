// Package marker provides named points of interest placed on map segments.
package marker

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
)

const Version = 1

var ErrInvalidKind = errors.New("worldmap: invalid marker kind")

// Kind tells which of the kind-specific fields of a Marker are meaningful.
type Kind byte

const (
	Plain  Kind = 'p' // Color
	Object Kind = 's' // OID and Res
)

// Marker is a named point on a segment, at a tile coordinate of that segment.
type Marker struct {
	Seg  uint64
	TC   grid.Coord
	Name string
	Kind Kind

	Color color.RGBA

	OID uint64
	Res grid.ResSpec
}

func NewPlain(seg uint64, tc grid.Coord, name string, col color.RGBA) *Marker {
	return &Marker{Seg: seg, TC: tc, Name: name, Kind: Plain, Color: col}
}

func NewObject(seg uint64, tc grid.Coord, name string, oid uint64, res grid.ResSpec) *Marker {
	return &Marker{Seg: seg, TC: tc, Name: name, Kind: Object, OID: oid, Res: res}
}

// GC returns the coordinate of the grid holding the marker.
func (m *Marker) GC() grid.Coord {
	return m.TC.DivC(grid.Size)
}

func (m *Marker) Append(w *codec.Writer) error {
	w.Uint8(Version).Uint64(m.Seg).Coord(m.TC).String(m.Name).Uint8(byte(m.Kind))
	switch m.Kind {
	case Plain:
		w.Uint8(m.Color.R).Uint8(m.Color.G).Uint8(m.Color.B).Uint8(m.Color.A)
	case Object:
		w.Uint64(m.OID).String(m.Res.Name).Uint16(m.Res.Version)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, m.Kind)
	}
	return nil
}

func (m *Marker) Encode() ([]byte, error) {
	w := codec.NewWriter()
	if err := m.Append(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func Read(r *codec.Reader) (*Marker, error) {
	if ver := r.Uint8(); r.Err() == nil && ver != Version {
		return nil, fmt.Errorf("%w: marker v%d", codec.ErrInvalidVersion, ver)
	}
	m := &Marker{
		Seg:  r.Uint64(),
		TC:   r.Coord(),
		Name: r.String(),
		Kind: Kind(r.Uint8()),
	}
	switch m.Kind {
	case Plain:
		m.Color = color.RGBA{R: r.Uint8(), G: r.Uint8(), B: r.Uint8(), A: r.Uint8()}
	case Object:
		m.OID = r.Uint64()
		m.Res = grid.ResSpec{Name: r.String(), Version: r.Uint16()}
	default:
		if r.Err() == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKind, m.Kind)
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func Decode(data []byte) (*Marker, error) {
	return Read(codec.NewReader(data))
}

// Moved returns a copy of the marker placed on segment seg with its tile
// coordinate shifted by -off grids.
func (m *Marker) Moved(seg uint64, off grid.Coord) *Marker {
	ret := *m
	ret.Seg = seg
	ret.TC = m.TC.Sub(off.Mul(grid.Size))
	return &ret
}
