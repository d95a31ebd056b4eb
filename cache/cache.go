package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

// Loader reads the durable value of key. It returns an error wrapping a
// not-found sentinel when there is none.
type Loader[K ristretto.Key, V any] func(ctx context.Context, key K) (V, error)

// Committer makes value the durable value of key.
type Committer[K ristretto.Key, V any] func(ctx context.Context, key K, value V) error

// Cache is a count-bounded cache in front of a loader and a committer.
// Evicting an entry only drops the in-memory copy: the next Get reloads it.
// Failed loads, including not-found results, are not cached.
type Cache[K ristretto.Key, V any] struct {
	entries *ristretto.Cache[K, V]
	group   singleflight.Group
	load    Loader[K, V]
	commit  Committer[K, V]
}

// New returns a cache holding up to capacity entries.
func New[K ristretto.Key, V any](capacity int, load Loader[K, V], commit Committer[K, V]) (*Cache[K, V], error) {
	capacity = max(capacity, 1)
	entries, err := ristretto.NewCache(&ristretto.Config[K, V]{
		NumCounters:        int64(capacity) * 10,
		MaxCost:            int64(capacity),
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("worldmap: create cache: %w", err)
	}
	return &Cache[K, V]{entries: entries, load: load, commit: commit}, nil
}

func (c *Cache[K, V]) Close() {
	c.entries.Close()
}

// Get returns the cached value of key, loading it on a miss. Concurrent
// misses of one key share a single load.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if v, ok := c.entries.Get(key); ok {
		return v, nil
	}
	r, err, _ := c.group.Do(fmt.Sprint(key), func() (any, error) {
		v, err := c.load(ctx, key)
		if err != nil {
			return v, err
		}
		c.Remember(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return r.(V), nil
}

// Peek returns the cached value of key without loading it.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.entries.Get(key)
}

// Put stores value in memory and commits it.
func (c *Cache[K, V]) Put(ctx context.Context, key K, value V) error {
	c.Remember(key, value)
	return c.commit(ctx, key, value)
}

// Remember stores value in memory only.
func (c *Cache[K, V]) Remember(key K, value V) {
	c.entries.Set(key, value, 1)
	c.entries.Wait()
}

// Remove drops the in-memory copy of key.
func (c *Cache[K, V]) Remove(key K) {
	c.entries.Del(key)
}
