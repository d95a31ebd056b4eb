// Package codec implements the binary formats of the map store: a small
// message writer/reader, block compression, and the versioned records stored
// under each key.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eak1mov/go-worldmap/grid"
)

var (
	ErrTruncated        = errors.New("worldmap: truncated record")
	ErrInvalidVersion   = errors.New("worldmap: unsupported record version")
	ErrIDMismatch       = errors.New("worldmap: record id does not match its key")
	ErrInvalidSignature = errors.New("worldmap: invalid signature")
)

// Writer accumulates a little-endian binary message.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) Uint8(v uint8) *Writer {
	w.buf = append(w.buf, v)
	return w
}

func (w *Writer) Uint16(v uint16) *Writer {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

func (w *Writer) Uint32(v uint32) *Writer {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *Writer) Int32(v int32) *Writer {
	return w.Uint32(uint32(v))
}

func (w *Writer) Uint64(v uint64) *Writer {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

func (w *Writer) Int64(v int64) *Writer {
	return w.Uint64(uint64(v))
}

func (w *Writer) Uvarint(v uint64) *Writer {
	w.buf = binary.AppendUvarint(w.buf, v)
	return w
}

func (w *Writer) String(s string) *Writer {
	w.Uvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

func (w *Writer) Raw(data []byte) *Writer {
	w.buf = append(w.buf, data...)
	return w
}

func (w *Writer) Coord(c grid.Coord) *Writer {
	return w.Int32(int32(c.X)).Int32(int32(c.Y))
}

// Reader decodes a message written by Writer. The first decoding error is
// sticky: later reads return zero values and Err reports it.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, r.Remaining())
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) Uint16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) Uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

func (r *Reader) Uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		r.err = fmt.Errorf("%w: bad uvarint at offset %d", ErrTruncated, r.off)
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) String() string {
	n := r.Uvarint()
	if n > uint64(r.Remaining()) {
		r.take(r.Remaining() + 1)
		return ""
	}
	return string(r.take(int(n)))
}

// Raw returns the next n bytes without copying them.
func (r *Reader) Raw(n int) []byte {
	return r.take(n)
}

func (r *Reader) Coord() grid.Coord {
	x := r.Int32()
	y := r.Int32()
	return grid.Coord{X: int(x), Y: int(y)}
}
