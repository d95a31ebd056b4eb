package blob

import (
	"bytes"
	"context"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Mem is an in-memory Store.
type Mem struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMem() *Mem {
	return &Mem{blobs: make(map[string][]byte)}
}

func (m *Mem) Fetch(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Mem) Create(_ context.Context, key string) (io.WriteCloser, error) {
	return NewBufferWriter(func(data []byte) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.blobs[key] = bytes.Clone(data)
		return nil
	}), nil
}

func (m *Mem) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Keys returns the stored keys with the given prefix, sorted.
func (m *Mem) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range maps.Keys(m.blobs) {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// Snapshot returns a copy of every stored blob.
func (m *Mem) Snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ret := make(map[string][]byte, len(m.blobs))
	for k, v := range m.blobs {
		ret[k] = bytes.Clone(v)
	}
	return ret
}
