// Package index provides the store index record: the set of known segments
// and the marker list.
package index

import (
	"fmt"
	"slices"

	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/marker"
)

const Version = 1

type Index struct {
	Segments []uint64
	Markers  []*marker.Marker
}

func WriteAll(idx *Index) ([]byte, error) {
	w := codec.NewWriter().Uint8(Version)

	segs := slices.Sorted(slices.Values(idx.Segments))
	w.Uint32(uint32(len(segs)))
	for _, id := range segs {
		w.Uint64(id)
	}

	w.Uint32(uint32(len(idx.Markers)))
	for _, m := range idx.Markers {
		if err := m.Append(w); err != nil {
			return nil, err
		}
	}

	return w.Bytes(), nil
}

func ReadAll(data []byte) (*Index, error) {
	r := codec.NewReader(data)
	if ver := r.Uint8(); r.Err() == nil && ver != Version {
		return nil, fmt.Errorf("%w: index v%d", codec.ErrInvalidVersion, ver)
	}

	idx := &Index{}
	nsegs := r.Uint32()
	for i := uint32(0); i < nsegs && r.Err() == nil; i++ {
		idx.Segments = append(idx.Segments, r.Uint64())
	}

	nmarks := r.Uint32()
	for i := uint32(0); i < nmarks && r.Err() == nil; i++ {
		m, err := marker.Read(r)
		if err != nil {
			return nil, err
		}
		idx.Markers = append(idx.Markers, m)
	}

	if err := r.Err(); err != nil {
		return nil, err
	}
	return idx, nil
}
