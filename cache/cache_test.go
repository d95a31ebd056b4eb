package cache_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eak1mov/go-worldmap/cache"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

type durable struct {
	mu    sync.Mutex
	data  map[uint64]string
	loads atomic.Int64
}

func (d *durable) load(_ context.Context, key uint64) (string, error) {
	d.loads.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.data[key]
	if !ok {
		return "", errNotFound
	}
	return v, nil
}

func (d *durable) commit(_ context.Context, key uint64, v string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = v
	return nil
}

func newCache(t *testing.T, capacity int) (*cache.Cache[uint64, string], *durable) {
	d := &durable{data: make(map[uint64]string)}
	c, err := cache.New(capacity, d.load, d.commit)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, d
}

func TestCacheLoadAndPut(t *testing.T) {
	ctx := context.Background()
	c, d := newCache(t, 16)
	d.data[1] = "one"

	v, err := c.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "one", v)

	v, err = c.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "one", v)
	require.Equal(t, int64(1), d.loads.Load())

	require.NoError(t, c.Put(ctx, 2, "two"))
	require.Equal(t, "two", d.data[2])

	c.Remember(2, "memory")
	v, err = c.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "memory", v)

	c.Remove(2)
	v, err = c.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "two", v)
}

func TestCacheNoNegativeEntries(t *testing.T) {
	ctx := context.Background()
	c, d := newCache(t, 16)

	_, err := c.Get(ctx, 7)
	require.ErrorIs(t, err, errNotFound)
	_, ok := c.Peek(7)
	require.False(t, ok)

	d.data[7] = "seven"
	v, err := c.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "seven", v)
	require.Equal(t, int64(2), d.loads.Load())
}

func TestCacheEvictionReload(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t, 8)
	rng := rand.New(rand.NewPCG(1, 2))

	want := make(map[uint64]string)
	for i := range 2000 {
		key := rng.Uint64N(64)
		if rng.IntN(3) == 0 {
			v := fmt.Sprintf("v%d-%d", key, i)
			require.NoError(t, c.Put(ctx, key, v))
			want[key] = v
			continue
		}
		if rng.IntN(5) == 0 {
			c.Remove(key)
		}
		v, err := c.Get(ctx, key)
		if w, ok := want[key]; ok {
			require.NoError(t, err)
			require.Equal(t, w, v, "key %d", key)
		} else {
			require.ErrorIs(t, err, errNotFound)
		}
	}
}

func TestCacheSharedLoad(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var loads atomic.Int64
	c, err := cache.New(16,
		func(context.Context, uint64) (string, error) {
			loads.Add(1)
			<-release
			return "slow", nil
		},
		func(context.Context, uint64, string) error { return nil })
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(ctx, 3)
			require.NoError(t, err)
			require.Equal(t, "slow", v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int64(1), loads.Load())
}

func TestHandle(t *testing.T) {
	ctx := context.Background()

	h := cache.Pending[int]()
	_, ready, err := h.Poll()
	require.False(t, ready)
	require.NoError(t, err)

	require.True(t, h.Resolve(5, nil))
	require.False(t, h.Resolve(6, nil))
	v, ready, err := h.Poll()
	require.True(t, ready)
	require.NoError(t, err)
	require.Equal(t, 5, v)

	missing := cache.Resolved(0, errNotFound)
	_, ready, err = missing.Poll()
	require.True(t, ready)
	require.ErrorIs(t, err, errNotFound)

	started := make(chan struct{})
	g := cache.Go(ctx, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	<-started
	g.Cancel()
	_, err = g.Get(ctx)
	require.ErrorIs(t, err, context.Canceled)

	g = cache.Go(ctx, func(context.Context) (int, error) { return 42, nil })
	v, err = g.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestHandleFollow(t *testing.T) {
	ctx := context.Background()

	src := cache.Pending[string]()
	h := cache.Pending[string]()
	h.Follow(src)
	_, ready, _ := h.Poll()
	require.False(t, ready)

	src.Resolve("grid", nil)
	v, err := h.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "grid", v)

	late := cache.Pending[string]()
	late.Follow(cache.Resolved("now", nil))
	v, ready, err = late.Poll()
	require.True(t, ready)
	require.NoError(t, err)
	require.Equal(t, "now", v)

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = cache.Pending[string]().Get(timeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
