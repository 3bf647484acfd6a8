// Package drain implements the serializer of worker output into the
// client response stream (spec §4.5): an Ordered variant that
// reassembles by sort key with bounded memory and producer
// backpressure, and an Unordered variant that is a simple
// mutex-gated FIFO.
package drain

import (
	"context"
	"io"
	"sync"
)

// Drain is the single-writer sink every worker emits merged bytes to
// (spec §3 "Ownership: ... the RequestProcessor owns ... the Drain
// lock"). Write blocks until the chunk has been accepted (and, for
// OrderedDrain, possibly until earlier chunks have made room); it
// returns ctx.Err() if ctx is cancelled first, satisfying spec §4.3
// "Cancellation ... safe at every suspension point".
type Drain interface {
	// Write submits chunk tagged with key (the chunk's position in the
	// overall ordering; UnorderedDrain ignores it). Workers for a single
	// route submit chunks in ascending order.
	Write(ctx context.Context, key int, chunk []byte) error
	// Close marks the drain finished and returns the first error the
	// underlying writer reported, if any; chunks an OrderedDrain still
	// holds behind a missing key are not written. After Close, Write must
	// not be called.
	Close() error
}

// UnorderedDrain is a FIFO gated by a single lock: the first worker to
// acquire it writes its chunk in full, then releases (spec §4.5
// "UnorderedDrain ... each worker's chunks are contiguous"). Used for
// text, JSON, and StationXML formats.
type UnorderedDrain struct {
	mu  sync.Mutex
	out io.Writer
}

// NewUnorderedDrain returns a Drain writing directly to out under a
// shared lock.
func NewUnorderedDrain(out io.Writer) *UnorderedDrain {
	return &UnorderedDrain{out: out}
}

func (d *UnorderedDrain) Write(ctx context.Context, _ int, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.out.Write(chunk)
	return err
}

func (d *UnorderedDrain) Close() error {
	return nil
}

// OrderedDrain reassembles chunks tagged with a sort key (usually the
// route index) into key order before writing to the underlying stream
// (spec §4.5 "OrderedDrain"). Used for time-series binary output, where
// byte order in the response must match route order regardless of
// which upstream fetch completes first.
//
// Out-of-order chunks are buffered until it is their turn. MaxBuffered
// bounds how many chunks may be held at once; once that bound is
// reached, Write blocks the calling worker until the drain advances
// (spec §4.5 "on overflow, the drain blocks producing workers
// (backpressure)").
type OrderedDrain struct {
	out         io.Writer
	maxBuffered int

	mu       sync.Mutex
	cond     *sync.Cond
	pending  map[int][]byte
	nextKey  int
	closed   bool
	writeErr error

	// OnBackpressure, if non-nil, is called once each time Write must
	// block a producing worker because MaxBuffered was reached (spec
	// §4.5 "on overflow, the drain blocks producing workers
	// (backpressure)"). Intended for metrics instrumentation; callers
	// that don't care about it may leave it nil.
	OnBackpressure func()
}

// NewOrderedDrain returns an OrderedDrain writing to out, starting at
// key 0, buffering at most maxBuffered out-of-order chunks at once. A
// non-positive maxBuffered means unbounded buffering.
func NewOrderedDrain(out io.Writer, maxBuffered int) *OrderedDrain {
	d := &OrderedDrain{
		out:         out,
		maxBuffered: maxBuffered,
		pending:     make(map[int][]byte),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *OrderedDrain) Write(ctx context.Context, key int, chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for d.maxBuffered > 0 && key != d.nextKey && len(d.pending) >= d.maxBuffered {
		if d.OnBackpressure != nil {
			d.OnBackpressure()
		}
		if err := d.waitOrCancel(ctx); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.writeErr != nil {
		return d.writeErr
	}

	d.pending[key] = chunk
	d.flushReady()
	return d.writeErr
}

// flushReady writes out every contiguous chunk starting at nextKey,
// under the lock. Callers must hold d.mu.
func (d *OrderedDrain) flushReady() {
	for {
		chunk, ok := d.pending[d.nextKey]
		if !ok {
			return
		}
		if _, err := d.out.Write(chunk); err != nil && d.writeErr == nil {
			d.writeErr = err
		}
		delete(d.pending, d.nextKey)
		d.nextKey++
		d.cond.Broadcast()
	}
}

// waitOrCancel blocks on the condition variable until space frees up or
// ctx is cancelled. Callers must hold d.mu; it is released while
// waiting and re-acquired before returning, matching sync.Cond.Wait.
func (d *OrderedDrain) waitOrCancel(ctx context.Context) error {
	done := make(chan struct{})
	var cancelled error
	go func() {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			cancelled = ctx.Err()
			d.cond.Broadcast()
			d.mu.Unlock()
		case <-done:
		}
	}()
	d.cond.Wait()
	close(done)
	return cancelled
}

func (d *OrderedDrain) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Broadcast()
	return d.writeErr
}
