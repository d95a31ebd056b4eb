package internal

import (
	"context"
	"io"
	"sync"

	"github.com/eak1mov/go-worldmap/blob"
)

// CountingStore is an in-memory blob store counting its mutations.
type CountingStore struct {
	*blob.Mem

	mu      sync.Mutex
	writes  int
	deletes int
	written []string
}

func NewCountingStore() *CountingStore {
	return &CountingStore{Mem: blob.NewMem()}
}

func (s *CountingStore) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	w, err := s.Mem.Create(ctx, key)
	if err != nil {
		return nil, err
	}
	return &countingWriter{WriteCloser: w, done: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.writes++
		s.written = append(s.written, key)
	}}, nil
}

func (s *CountingStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.Mem.Delete(ctx, key)
}

// Mutations returns the number of committed writes plus deletes.
func (s *CountingStore) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes + s.deletes
}

// Written returns the keys written so far, in write order.
func (s *CountingStore) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

type countingWriter struct {
	io.WriteCloser
	done func()
}

func (w *countingWriter) Close() error {
	if err := w.WriteCloser.Close(); err != nil {
		return err
	}
	w.done()
	return nil
}

// FlakyStore fails the first Busy calls of every operation with blob.ErrBusy.
// Creates of keys matched by FailCreate always fail that way.
type FlakyStore struct {
	blob.Store
	FailCreate func(key string) bool

	mu      sync.Mutex
	Busy    int
	creates int
}

func (s *FlakyStore) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Busy > 0 {
		s.Busy--
		return true
	}
	return false
}

// SetBusy makes the next n calls fail.
func (s *FlakyStore) SetBusy(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Busy = n
}

// Creates returns the number of Create calls so far, failed ones included.
func (s *FlakyStore) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (s *FlakyStore) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.busy() {
		return nil, blob.ErrBusy
	}
	return s.Store.Fetch(ctx, key)
}

func (s *FlakyStore) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	if s.busy() || (s.FailCreate != nil && s.FailCreate(key)) {
		return nil, blob.ErrBusy
	}
	return s.Store.Create(ctx, key)
}
