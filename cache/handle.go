// Package cache provides lazily resolved values and a bounded write-back
// object cache.
package cache

import (
	"context"
	"sync"
)

// Handle is a value that becomes available later. A handle resolves exactly
// once, either to a value or to an error; "not resolved yet" is reported by
// Poll separately from any error the handle may resolve to.
type Handle[T any] struct {
	done   chan struct{}
	once   sync.Once
	val    T
	err    error
	cancel context.CancelFunc
}

// Pending returns an unresolved handle. It is resolved by Resolve or Follow.
func Pending[T any]() *Handle[T] {
	return &Handle[T]{done: make(chan struct{})}
}

// Resolved returns a handle already resolved to (v, err).
func Resolved[T any](v T, err error) *Handle[T] {
	h := Pending[T]()
	h.Resolve(v, err)
	return h
}

// Go runs fn in a new goroutine and resolves the handle with its result.
// Cancel cancels the context passed to fn.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Handle[T] {
	ctx, cancel := context.WithCancel(ctx)
	h := Pending[T]()
	h.cancel = cancel
	go func() {
		defer cancel()
		h.Resolve(fn(ctx))
	}()
	return h
}

// Resolve sets the result of the handle. Only the first call has an effect;
// it reports whether this call resolved the handle.
func (h *Handle[T]) Resolve(v T, err error) bool {
	resolved := false
	h.once.Do(func() {
		h.val, h.err = v, err
		close(h.done)
		resolved = true
	})
	return resolved
}

// Follow resolves h with the result of src once src is resolved.
func (h *Handle[T]) Follow(src *Handle[T]) {
	select {
	case <-src.done:
		h.Resolve(src.val, src.err)
	default:
		go func() {
			select {
			case <-src.done:
				h.Resolve(src.val, src.err)
			case <-h.done:
			}
		}()
	}
}

// Done returns a channel closed when the handle is resolved.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// Poll returns the result without blocking. ready is false while the handle
// is unresolved.
func (h *Handle[T]) Poll() (v T, ready bool, err error) {
	select {
	case <-h.done:
		return h.val, true, h.err
	default:
		return v, false, nil
	}
}

// Get waits for the handle to resolve or for ctx to be done.
func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel stops the computation behind a handle made by Go and resolves any
// still pending handle with context.Canceled.
func (h *Handle[T]) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
	var zero T
	h.Resolve(zero, context.Canceled)
}
