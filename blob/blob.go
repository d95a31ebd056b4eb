// Package blob defines the keyed blob storage the map store persists into.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

var (
	ErrNotFound = errors.New("worldmap: blob not found")

	// ErrBusy reports that another process currently holds the resource.
	// It is transient; see Retry.
	ErrBusy = errors.New("worldmap: blob store busy")

	// ErrContention is returned by Retry once the retry ceiling is reached.
	ErrContention = errors.New("worldmap: blob store contention")
)

// Store is a flat namespace of keyed blobs.
type Store interface {
	// Fetch opens the blob stored under key, or returns ErrNotFound.
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)

	// Create returns a writer replacing the blob under key. The new contents
	// become visible atomically when Close returns successfully.
	Create(ctx context.Context, key string) (io.WriteCloser, error)

	// Delete removes the blob under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	r, err := s.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func WriteAll(ctx context.Context, s Store, key string, data []byte) error {
	w, err := s.Create(ctx, key)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// RetryPolicy bounds the retries of an operation failing with ErrBusy.
type RetryPolicy struct {
	Delay    time.Duration
	Attempts int
}

var DefaultRetryPolicy = RetryPolicy{Delay: 100 * time.Millisecond, Attempts: 50}

// Retry runs fn until it returns something other than ErrBusy, waiting
// p.Delay between attempts. After p.Attempts busy results it gives up with
// ErrContention.
func Retry(ctx context.Context, p RetryPolicy, logger *slog.Logger, fn func() error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for i := range attempts {
		if err = fn(); !errors.Is(err, ErrBusy) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if logger != nil {
			logger.Debug("worldmap: store busy, retrying", "attempt", i+1, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return fmt.Errorf("%w: %d attempts: %w", ErrContention, attempts, err)
}

// bufferWriter collects written bytes and hands them to commit on Close.
type bufferWriter struct {
	bytes.Buffer
	commit func([]byte) error
	closed bool
}

func (w *bufferWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.commit(w.Bytes())
}

// NewBufferWriter returns a WriteCloser buffering everything written to it
// and passing it to commit on Close. Backends without streaming writes use it.
func NewBufferWriter(commit func([]byte) error) io.WriteCloser {
	return &bufferWriter{commit: commit}
}
