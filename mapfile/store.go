// Package mapfile provides the persistent world map store: segments of grids
// kept in a blob store, the marker list, and the background processor writing
// changes back.
//
// All segment, grid-location and index state is guarded by one reader/writer
// lock. It is only reachable through the transactions handed out by Read,
// TryRead and Write.
package mapfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/eak1mov/go-worldmap/blob"
	"github.com/eak1mov/go-worldmap/cache"
	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/config"
	"github.com/eak1mov/go-worldmap/grid"
	"github.com/eak1mov/go-worldmap/index"
	"github.com/eak1mov/go-worldmap/marker"
	"golang.org/x/sync/semaphore"
)

var (
	ErrNotFound           = blob.ErrNotFound
	ErrClosed             = errors.New("worldmap: map store closed")
	ErrInterrupted        = errors.New("worldmap: interrupted")
	ErrInconsistentOffset = errors.New("worldmap: inconsistent segment offset")
)

// Store is an open map store.
type Store struct {
	blobs       blob.Store
	logger      *slog.Logger
	cfg         config.Config
	compression codec.Compression
	retry       blob.RetryPolicy

	ctx    context.Context // cancelled by Close; parent of background loads
	cancel context.CancelFunc
	loads  *semaphore.Weighted

	mu      sync.RWMutex
	known   map[uint64]struct{}
	markers []*marker.Marker
	infos   *cache.Cache[uint64, codec.GridInfo]
	segs    *cache.Cache[uint64, *Segment]
	grids   *cache.Cache[uint64, *grid.Grid]

	proc *processor
}

type storeConfig struct {
	Logger *slog.Logger
	Config config.Config
}

type Option func(*storeConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) { c.Logger = logger }
}

func WithConfig(cfg config.Config) Option {
	return func(c *storeConfig) { c.Config = cfg }
}

// Open opens the map store kept in blobs, reading its index if there is one.
func Open(ctx context.Context, blobs blob.Store, opts ...Option) (*Store, error) {
	sc := storeConfig{
		Logger: slog.New(slog.DiscardHandler),
		Config: config.Default(),
	}
	for _, opt := range opts {
		opt(&sc)
	}
	if err := sc.Config.Validate(); err != nil {
		return nil, err
	}
	compression, err := codec.ParseCompression(sc.Config.Compression)
	if err != nil {
		return nil, fmt.Errorf("worldmap: %w", err)
	}

	s := &Store{
		blobs:       blobs,
		logger:      sc.Logger,
		cfg:         sc.Config,
		compression: compression,
		retry:       blob.RetryPolicy{Delay: sc.Config.BusyRetryDelay, Attempts: sc.Config.BusyRetryLimit},
		loads:       semaphore.NewWeighted(sc.Config.LoadConcurrency),
		known:       make(map[uint64]struct{}),
	}
	s.proc = newProcessor(s, sc.Config.ProcessorIdle)

	if s.infos, err = cache.New(sc.Config.InfoCacheSize, s.loadInfo, s.commitInfo); err != nil {
		return nil, err
	}
	if s.segs, err = cache.New(sc.Config.SegmentCacheSize, s.loadSegment, s.commitSegment); err != nil {
		return nil, err
	}
	if s.grids, err = cache.New(sc.Config.GridCacheSize, s.loadGrid, s.commitGrid); err != nil {
		return nil, err
	}

	data, err := s.get(ctx, codec.IndexKey)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Debug("worldmap: no index, starting empty")
	case err != nil:
		return nil, err
	default:
		idx, err := index.ReadAll(data)
		if err != nil {
			return nil, fmt.Errorf("worldmap: read index: %w", err)
		}
		for _, id := range idx.Segments {
			s.known[id] = struct{}{}
		}
		s.markers = idx.Markers
		s.logger.Debug("worldmap: index loaded", "segments", len(idx.Segments), "markers", len(idx.Markers))
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Close waits for pending writes, then releases the store. The blob store
// itself is not closed.
func (s *Store) Close() error {
	err := s.Sync(context.Background())
	s.proc.close()
	s.cancel()
	s.infos.Close()
	s.segs.Close()
	s.grids.Close()
	return err
}

// Sync waits until every queued update and dirty record has been written.
func (s *Store) Sync(ctx context.Context) error {
	return s.proc.sync(ctx)
}

// ReadTx is a critical section holding the store lock in read mode.
type ReadTx struct {
	s    *Store
	ctx  context.Context
	done bool

	// segments resolved so far, so that one transaction always sees the
	// same Segment even if the cache evicts it meanwhile
	seen map[uint64]*Segment
}

// WriteTx is a critical section holding the store lock in write mode.
type WriteTx struct {
	ReadTx
}

// Tx is either transaction kind.
type Tx interface {
	readTx() *ReadTx
}

func (tx *ReadTx) readTx() *ReadTx { return tx }

func (tx *ReadTx) check() {
	if tx.done {
		panic("worldmap: transaction used outside of its critical section")
	}
}

func checkTx(tx Tx) *Store {
	rtx := tx.readTx()
	rtx.check()
	return rtx.s
}

// Read runs fn holding the store lock in read mode.
func (s *Store) Read(ctx context.Context, fn func(tx *ReadTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx := &ReadTx{s: s, ctx: ctx}
	defer func() { tx.done = true }()
	return fn(tx)
}

// TryRead runs fn only if the read lock can be taken without waiting. It
// reports whether fn ran.
func (s *Store) TryRead(ctx context.Context, fn func(tx *ReadTx) error) (bool, error) {
	if !s.mu.TryRLock() {
		return false, nil
	}
	defer s.mu.RUnlock()
	tx := &ReadTx{s: s, ctx: ctx}
	defer func() { tx.done = true }()
	return true, fn(tx)
}

// Write runs fn holding the store lock in write mode.
func (s *Store) Write(ctx context.Context, fn func(tx *WriteTx) error) error {
	if s.proc.isClosed() {
		return ErrClosed
	}
	return s.write(ctx, fn)
}

func (s *Store) write(ctx context.Context, fn func(tx *WriteTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &WriteTx{ReadTx{s: s, ctx: ctx}}
	defer func() { tx.done = true }()
	return fn(tx)
}

// Segments returns the known segment ids, sorted.
func (tx *ReadTx) Segments() []uint64 {
	tx.check()
	return slices.Sorted(maps.Keys(tx.s.known))
}

// Segment returns a known segment.
func (tx *ReadTx) Segment(id uint64) (*Segment, error) {
	tx.check()
	if _, ok := tx.s.known[id]; !ok {
		return nil, fmt.Errorf("%w: segment %x", ErrNotFound, id)
	}
	if seg, ok := tx.seen[id]; ok {
		return seg, nil
	}
	seg, err := tx.s.segs.Get(tx.ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.seen == nil {
		tx.seen = make(map[uint64]*Segment)
	}
	tx.seen[id] = seg
	return seg, nil
}

// GridInfo returns the location record of a grid. A zero Seg means the grid
// was invalidated.
func (tx *ReadTx) GridInfo(id uint64) (codec.GridInfo, error) {
	tx.check()
	return tx.s.infos.Get(tx.ctx, id)
}

// Locate returns the segment and coordinate of a grid.
func (tx *ReadTx) Locate(id uint64) (*Segment, grid.Coord, error) {
	info, err := tx.GridInfo(id)
	if err != nil {
		return nil, grid.Coord{}, err
	}
	if info.Seg == 0 {
		return nil, grid.Coord{}, fmt.Errorf("%w: grid %x is not placed", ErrNotFound, id)
	}
	seg, err := tx.Segment(info.Seg)
	if err != nil {
		return nil, grid.Coord{}, err
	}
	return seg, info.SC, nil
}

// Markers returns the marker list. The markers must not be modified.
func (tx *ReadTx) Markers() []*marker.Marker {
	tx.check()
	return slices.Clone(tx.s.markers)
}

func (tx *WriteTx) AddMarker(m *marker.Marker) {
	tx.check()
	tx.s.markers = append(tx.s.markers, m)
	tx.s.proc.markIndex()
}

// RemoveMarker removes the first marker equal to m.
func (tx *WriteTx) RemoveMarker(m *marker.Marker) bool {
	tx.check()
	for i, x := range tx.s.markers {
		if *x == *m {
			tx.s.markers = slices.Delete(tx.s.markers, i, i+1)
			tx.s.proc.markIndex()
			return true
		}
	}
	return false
}

// UpdateMarker replaces the first marker equal to old with m.
func (tx *WriteTx) UpdateMarker(old, m *marker.Marker) bool {
	tx.check()
	for i, x := range tx.s.markers {
		if *x == *old {
			tx.s.markers[i] = m
			tx.s.proc.markIndex()
			return true
		}
	}
	return false
}

func (tx *WriteTx) hasMarker(m *marker.Marker) bool {
	return slices.ContainsFunc(tx.s.markers, func(x *marker.Marker) bool { return *x == *m })
}

// newSegment registers an empty segment. A zero id picks a random unused one.
func (tx *WriteTx) newSegment(id uint64) *Segment {
	for id == 0 {
		if id = rand.Uint64(); id != 0 {
			if _, ok := tx.s.known[id]; ok {
				id = 0
			}
		}
	}
	seg := newSegment(tx.s, &codec.SegmentRecord{ID: id, Grids: make(map[grid.Coord]uint64)})
	tx.s.known[id] = struct{}{}
	if tx.seen == nil {
		tx.seen = make(map[uint64]*Segment)
	}
	tx.seen[id] = seg
	tx.s.proc.markIndex()
	tx.dirty(seg)
	tx.s.logger.Debug("worldmap: new segment", "seg", hexID(id))
	return seg
}

func (tx *WriteTx) dirty(seg *Segment) {
	if err := tx.s.segs.Put(tx.ctx, seg.ID, seg); err != nil {
		tx.s.logger.Warn("worldmap: cannot queue segment", "seg", hexID(seg.ID), "err", err)
	}
}

func (tx *WriteTx) setInfo(info codec.GridInfo) {
	if err := tx.s.infos.Put(tx.ctx, info.ID, info); err != nil {
		tx.s.logger.Warn("worldmap: cannot queue gridinfo", "grid", hexID(info.ID), "err", err)
	}
}

func hexID(id uint64) string {
	return fmt.Sprintf("%x", id)
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := blob.Retry(ctx, s.retry, s.logger, func() error {
		var err error
		data, err = blob.ReadAll(ctx, s.blobs, key)
		return err
	})
	return data, err
}

func (s *Store) put(ctx context.Context, key string, data []byte) error {
	return blob.Retry(ctx, s.retry, s.logger, func() error {
		return blob.WriteAll(ctx, s.blobs, key, data)
	})
}

func (s *Store) remove(ctx context.Context, key string) error {
	return blob.Retry(ctx, s.retry, s.logger, func() error {
		return s.blobs.Delete(ctx, key)
	})
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	err := blob.Retry(ctx, s.retry, s.logger, func() error {
		r, err := s.blobs.Fetch(ctx, key)
		if err != nil {
			return err
		}
		return r.Close()
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) loadInfo(ctx context.Context, id uint64) (codec.GridInfo, error) {
	if info, ok := s.proc.pendingInfo(id); ok {
		return info, nil
	}
	data, err := s.get(ctx, codec.InfoKey(id))
	if err != nil {
		return codec.GridInfo{}, err
	}
	info, err := codec.DecodeGridInfo(data, id)
	if err != nil {
		s.logger.Warn("worldmap: unreadable gridinfo", "grid", hexID(id), "err", err)
		return codec.GridInfo{}, err
	}
	return info, nil
}

func (s *Store) commitInfo(_ context.Context, _ uint64, info codec.GridInfo) error {
	s.proc.markInfo(info)
	return nil
}

func (s *Store) loadSegment(ctx context.Context, id uint64) (*Segment, error) {
	if seg, ok := s.proc.pendingSegment(id); ok {
		return seg, nil
	}
	data, err := s.get(ctx, codec.SegmentKey(id))
	if err != nil {
		return nil, err
	}
	rec, err := codec.DecodeSegment(data, id)
	if err != nil {
		s.logger.Warn("worldmap: unreadable segment", "seg", hexID(id), "err", err)
		return nil, err
	}
	return newSegment(s, rec), nil
}

func (s *Store) commitSegment(_ context.Context, _ uint64, seg *Segment) error {
	s.proc.markSegment(seg)
	return nil
}

func (s *Store) loadGrid(ctx context.Context, id uint64) (*grid.Grid, error) {
	data, err := s.get(ctx, codec.GridKey(id))
	if err != nil {
		return nil, err
	}
	g, err := codec.DecodeGrid(data, id)
	if err != nil {
		s.logger.Warn("worldmap: unreadable grid", "grid", hexID(id), "err", err)
		return nil, err
	}
	return g, nil
}

func (s *Store) commitGrid(ctx context.Context, id uint64, g *grid.Grid) error {
	data, err := codec.EncodeGrid(g, s.compression)
	if err != nil {
		return err
	}
	return s.put(ctx, codec.GridKey(id), data)
}

// background runs fn in a handle holding a load slot and the read lock. A
// caller holding a transaction must not wait on the returned handle.
func background[T any](s *Store, fn func(tx *ReadTx) (T, error)) *cache.Handle[T] {
	return cache.Go(s.ctx, func(ctx context.Context) (T, error) {
		var ret T
		if err := s.loads.Acquire(ctx, 1); err != nil {
			return ret, err
		}
		defer s.loads.Release(1)
		err := s.Read(ctx, func(tx *ReadTx) error {
			var err error
			ret, err = fn(tx)
			return err
		})
		return ret, err
	})
}
