package mapfile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/eak1mov/go-worldmap/codec"
	"github.com/eak1mov/go-worldmap/grid"
	"github.com/eak1mov/go-worldmap/index"
)

type updateBatch struct {
	tilesets grid.Tilesets
	grids    []*grid.LiveGrid
}

// processor is the background writer. It drains, in order, the queued update
// batches, the dirty grid infos, the dirty segments and the index. It runs
// while there is work and exits after being idle for a while.
type processor struct {
	s    *Store
	idle time.Duration
	wake chan struct{}

	mu      sync.Mutex
	updates []updateBatch
	gdirty  map[uint64]codec.GridInfo
	sdirty  map[uint64]*Segment
	idirty  bool
	running bool
	stopped chan struct{} // closed when the running worker exits
	closed  bool
	lastErr error
	waiters []chan error
}

func newProcessor(s *Store, idle time.Duration) *processor {
	return &processor{
		s:      s,
		idle:   idle,
		wake:   make(chan struct{}, 1),
		gdirty: make(map[uint64]codec.GridInfo),
		sdirty: make(map[uint64]*Segment),
	}
}

func (p *processor) pendingLocked() bool {
	return len(p.updates) > 0 || len(p.gdirty) > 0 || len(p.sdirty) > 0 || p.idirty
}

// kickLocked makes sure the worker runs and looks at the queues. No worker
// is started once the processor is closed.
func (p *processor) kickLocked() {
	if !p.running {
		if p.closed {
			return
		}
		p.running = true
		p.stopped = make(chan struct{})
		go p.run(p.stopped)
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *processor) enqueue(b updateBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.updates = append(p.updates, b)
	p.kickLocked()
	return nil
}

func (p *processor) markInfo(info codec.GridInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gdirty[info.ID] = info
	p.kickLocked()
}

func (p *processor) markSegment(seg *Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sdirty[seg.ID] = seg
	p.kickLocked()
}

func (p *processor) markIndex() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idirty = true
	p.kickLocked()
}

func (p *processor) forgetSegment(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sdirty, id)
}

func (p *processor) pendingInfo(id uint64) (codec.GridInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.gdirty[id]
	return info, ok
}

func (p *processor) pendingSegment(id uint64) (*Segment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	seg, ok := p.sdirty[id]
	return seg, ok
}

func (p *processor) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// close stops the worker and waits for it to exit. A worker that cannot
// write its queues gives up on them.
func (p *processor) close() {
	p.mu.Lock()
	p.closed = true
	var stopped chan struct{}
	if p.running {
		stopped = p.stopped
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.mu.Unlock()

	if stopped != nil {
		<-stopped
	}
}

// sync waits until the queues are empty and returns the error of the last
// drain, if any.
func (p *processor) sync(ctx context.Context) error {
	p.mu.Lock()
	if !p.pendingLocked() {
		err := p.lastErr
		p.lastErr = nil
		p.mu.Unlock()
		return err
	}
	if p.closed && !p.running {
		p.mu.Unlock()
		return fmt.Errorf("%w: unwritten changes dropped", ErrClosed)
	}
	w := make(chan error, 1)
	p.waiters = append(p.waiters, w)
	p.kickLocked()
	p.mu.Unlock()

	select {
	case err := <-w:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *processor) run(stopped chan struct{}) {
	defer close(stopped)
	p.s.logger.Debug("worldmap: processor started")
	timer := time.NewTimer(p.idle)
	defer timer.Stop()

	for {
		err := p.drain()

		p.mu.Lock()
		pending := p.pendingLocked()
		if !pending || err != nil {
			for _, w := range p.waiters {
				w <- err
			}
			p.lastErr = nil
			if err != nil && !pending && len(p.waiters) == 0 {
				p.lastErr = err
			}
			p.waiters = nil
		}
		closed := p.closed
		p.mu.Unlock()
		if pending && err == nil {
			continue
		}
		if closed {
			p.exit(err)
			return
		}

		timer.Reset(p.idle)
		idle := false
		select {
		case <-p.wake:
		case <-timer.C:
			idle = true
		}

		p.mu.Lock()
		closed = p.closed
		exit := !p.pendingLocked() && idle
		if exit {
			p.running = false
		}
		p.mu.Unlock()
		if closed {
			continue
		}
		if exit {
			p.s.logger.Debug("worldmap: processor idle, exiting")
			return
		}
	}
}

// exit stops a worker of a closed processor, dropping whatever it could not
// write. Waiters still registered get err.
func (p *processor) exit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.pendingLocked() {
		p.s.logger.Warn("worldmap: processor closed with unwritten changes",
			"updates", len(p.updates), "gridinfos", len(p.gdirty), "segments", len(p.sdirty), "index", p.idirty, "err", err)
	}
	if err == nil {
		err = ErrClosed
	}
	for _, w := range p.waiters {
		w <- err
	}
	p.waiters = nil
	p.s.logger.Debug("worldmap: processor stopped")
}

func (p *processor) nextUpdate() (updateBatch, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.updates) == 0 {
		return updateBatch{}, false
	}
	return p.updates[0], true
}

func (p *processor) popUpdate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = p.updates[1:]
}

func (p *processor) drain() error {
	s := p.s
	ctx := context.Background()
	var errs []error

	for {
		b, ok := p.nextUpdate()
		if !ok {
			break
		}
		err := s.write(ctx, func(tx *WriteTx) error {
			return tx.update(b.tilesets, b.grids)
		})
		if err != nil {
			s.logger.Warn("worldmap: update failed", "grids", len(b.grids), "err", err)
			errs = append(errs, err)
		}
		p.popUpdate()
	}

	if err := p.flush(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// flush writes the dirty records. Holding the read lock keeps writers from
// changing them meanwhile.
func (p *processor) flush(ctx context.Context) error {
	s := p.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	p.mu.Lock()
	infos := maps.Clone(p.gdirty)
	segs := maps.Clone(p.sdirty)
	writeIndex := p.idirty
	p.mu.Unlock()

	for _, id := range slices.Sorted(maps.Keys(infos)) {
		if err := s.put(ctx, codec.InfoKey(id), codec.EncodeGridInfo(infos[id])); err != nil {
			return err
		}
		p.mu.Lock()
		delete(p.gdirty, id)
		p.mu.Unlock()
	}

	for _, id := range slices.Sorted(maps.Keys(segs)) {
		data, err := codec.EncodeSegment(segs[id].record(), s.compression)
		if err == nil {
			err = s.put(ctx, codec.SegmentKey(id), data)
		}
		if err != nil {
			return err
		}
		p.mu.Lock()
		delete(p.sdirty, id)
		p.mu.Unlock()
	}

	if writeIndex {
		data, err := index.WriteAll(&index.Index{
			Segments: slices.Collect(maps.Keys(s.known)),
			Markers:  s.markers,
		})
		if err == nil {
			err = s.put(ctx, codec.IndexKey, data)
		}
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.idirty = false
		p.mu.Unlock()
	}

	if n := len(infos) + len(segs); n > 0 || writeIndex {
		s.logger.Debug("worldmap: flushed", "gridinfos", len(infos), "segments", len(segs), "index", writeIndex)
	}
	return nil
}
