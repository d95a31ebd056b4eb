package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

type Compression uint8

const (
	CompressionUnknown Compression = iota
	CompressionNone
	CompressionGzip
	CompressionZstd
)

// ParseCompression maps a configuration name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd", "":
		return CompressionZstd, nil
	}
	return CompressionUnknown, fmt.Errorf("compression not supported (%q)", name)
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

func Compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil

	case CompressionGzip:
		var buffer bytes.Buffer
		writer, _ := gzip.NewWriterLevel(&buffer, gzip.BestCompression)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("failed to compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to compress: %w", err)
		}
		return buffer.Bytes(), nil

	case CompressionZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("failed to compress: %w", err)
		}
		return enc.EncodeAll(data, nil), nil
	}

	return nil, fmt.Errorf("compression not supported (%v)", compression)
}

func Decompress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return data, nil

	case CompressionGzip:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress: %w", err)
		}
		defer reader.Close()
		result, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress: %w", err)
		}
		return result, nil

	case CompressionZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("failed to decompress: %w", err)
		}
		result, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress: %w", err)
		}
		return result, nil
	}

	return nil, fmt.Errorf("compression not supported (%v)", compression)
}

// AppendBlock appends a compressed block: the compression tag, the compressed
// length and the compressed bytes.
func (w *Writer) AppendBlock(payload []byte, compression Compression) error {
	data, err := Compress(payload, compression)
	if err != nil {
		return err
	}
	w.Uint8(uint8(compression))
	w.Uvarint(uint64(len(data)))
	w.Raw(data)
	return nil
}

// Block reads a block written by AppendBlock and returns a reader over its
// decompressed contents.
func (r *Reader) Block() (*Reader, error) {
	compression := Compression(r.Uint8())
	n := r.Uvarint()
	if n > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: block of %d bytes", ErrTruncated, n)
	}
	data := r.Raw(int(n))
	if err := r.Err(); err != nil {
		return nil, err
	}
	payload, err := Decompress(data, compression)
	if err != nil {
		return nil, err
	}
	return NewReader(payload), nil
}
