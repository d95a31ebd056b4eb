package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ExportSignature starts every export stream, ahead of the compressed body.
const ExportSignature = "Worldmap Export 1\n"

const (
	TagGrid   = "grid"
	TagMarker = "mark"

	maxTagLength    = 64
	maxRecordLength = 64 << 20
)

var ErrUnknownRecord = errors.New("worldmap: unknown record type")

// StreamWriter writes an export stream: the signature followed by a zstd
// compressed sequence of (tag, length, payload) records.
type StreamWriter struct {
	zw     *zstd.Encoder
	closed bool
}

func NewStreamWriter(w io.Writer) (*StreamWriter, error) {
	if _, err := io.WriteString(w, ExportSignature); err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return &StreamWriter{zw: zw}, nil
}

func (sw *StreamWriter) WriteRecord(tag string, payload []byte) error {
	header := NewWriter().String(tag).Uint32(uint32(len(payload)))
	if _, err := sw.zw.Write(header.Bytes()); err != nil {
		return err
	}
	_, err := sw.zw.Write(payload)
	return err
}

// Close ends the compressed body. It does not close the underlying writer.
func (sw *StreamWriter) Close() error {
	if sw.closed {
		return nil
	}
	sw.closed = true
	return sw.zw.Close()
}

// StreamReader reads an export stream written by StreamWriter.
type StreamReader struct {
	zr *zstd.Decoder
	br *bufio.Reader
}

func NewStreamReader(r io.Reader) (*StreamReader, error) {
	sig := make([]byte, len(ExportSignature))
	if _, err := io.ReadFull(r, sig); err != nil || string(sig) != ExportSignature {
		return nil, ErrInvalidSignature
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &StreamReader{zr: zr, br: bufio.NewReader(zr)}, nil
}

// Next returns the next record. It returns io.EOF after the last one.
func (sr *StreamReader) Next() (tag string, payload []byte, err error) {
	n, err := binary.ReadUvarint(sr.br)
	if err == io.EOF {
		return "", nil, io.EOF
	}
	if err != nil {
		return "", nil, fmt.Errorf("%w: record tag: %w", ErrTruncated, err)
	}
	if n > maxTagLength {
		return "", nil, fmt.Errorf("%w: tag of %d bytes", ErrUnknownRecord, n)
	}

	header := make([]byte, n+4)
	if _, err := io.ReadFull(sr.br, header); err != nil {
		return "", nil, fmt.Errorf("%w: record header: %w", ErrTruncated, err)
	}
	tag = string(header[:n])
	length := binary.LittleEndian.Uint32(header[n:])
	if length > maxRecordLength {
		return "", nil, fmt.Errorf("%w: %q record of %d bytes", ErrTruncated, tag, length)
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(sr.br, payload); err != nil {
		return "", nil, fmt.Errorf("%w: %q record: %w", ErrTruncated, tag, err)
	}
	return tag, payload, nil
}

func (sr *StreamReader) Close() {
	sr.zr.Close()
}
