package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/metrics"
)

var (
	// ErrClosed indicates the queue is closed
	ErrClosed = errors.New("queue closed")
)

// PacketQueue is an unbounded FIFO of compressed units for one elementary stream.
// Its length is backpressure input for the dispatcher, not a capacity limit.
type PacketQueue struct {
	kind media.Kind

	mu    sync.Mutex
	items []media.Unit

	// notify carries at most one pending wakeup for blocked consumers.
	notify chan struct{}

	// Metrics
	depth   atomic.Int64
	puts    atomic.Uint64
	gets    atomic.Uint64
	flushed atomic.Uint64

	// State
	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewPacketQueue creates an empty queue for the given stream kind.
func NewPacketQueue(kind media.Kind) *PacketQueue {
	return &PacketQueue{
		kind:    kind,
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Kind returns the stream kind this queue carries.
func (q *PacketQueue) Kind() media.Kind {
	return q.kind
}

// Put appends u to the tail and wakes one waiting consumer.
func (q *PacketQueue) Put(u media.Unit) error {
	if q.closed.Load() {
		return ErrClosed
	}

	q.mu.Lock()
	q.items = append(q.items, u)
	n := len(q.items)
	q.depth.Store(int64(n))
	q.mu.Unlock()

	q.puts.Add(1)
	metrics.SetQueueDepth(q.kind.String(), n)
	q.signal()
	return nil
}

// Get removes and returns the head unit, blocking until one is available,
// the queue is closed, or ctx is done.
func (q *PacketQueue) Get(ctx context.Context) (media.Unit, error) {
	for {
		// A wakeup may come from Close rather than Put, so re-check before touching data.
		if q.closed.Load() {
			return media.Unit{}, ErrClosed
		}
		if u, ok := q.TryGet(); ok {
			return u, nil
		}

		select {
		case <-q.notify:
		case <-q.closeCh:
		case <-ctx.Done():
			return media.Unit{}, ctx.Err()
		}
	}
}

// TryGet removes and returns the head unit without blocking.
func (q *PacketQueue) TryGet() (media.Unit, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return media.Unit{}, false
	}
	u := q.items[0]
	q.items[0] = media.Unit{}
	q.items = q.items[1:]
	n := len(q.items)
	q.depth.Store(int64(n))
	q.mu.Unlock()

	q.gets.Add(1)
	metrics.SetQueueDepth(q.kind.String(), n)
	if n > 0 {
		// Pass the wakeup on so a second consumer does not sleep on a non-empty queue.
		q.signal()
	}
	return u, true
}

// Flush discards every queued data unit and returns how many were dropped.
// Pending end-of-stream markers are kept in order.
func (q *PacketQueue) Flush() int {
	q.mu.Lock()
	var kept []media.Unit
	dropped := 0
	for _, u := range q.items {
		if u.IsEndOfStream() {
			kept = append(kept, u)
			continue
		}
		dropped++
	}
	q.items = kept
	n := len(kept)
	q.depth.Store(int64(n))
	q.mu.Unlock()

	q.flushed.Add(uint64(dropped))
	metrics.SetQueueDepth(q.kind.String(), n)
	return dropped
}

// DropEndOfStream removes pending end-of-stream markers and returns how many
// were removed. Used when the reader moves back from the end of input.
func (q *PacketQueue) DropEndOfStream() int {
	q.mu.Lock()
	kept := q.items[:0]
	removed := 0
	for _, u := range q.items {
		if u.IsEndOfStream() {
			removed++
			continue
		}
		kept = append(kept, u)
	}
	clear(q.items[len(kept):])
	q.items = kept
	n := len(kept)
	q.depth.Store(int64(n))
	q.mu.Unlock()

	metrics.SetQueueDepth(q.kind.String(), n)
	return removed
}

// Len returns the current backlog.
func (q *PacketQueue) Len() int {
	return int(q.depth.Load())
}

// Close wakes every waiter; later Put and Get calls fail with ErrClosed.
func (q *PacketQueue) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.closeCh)
	})
}

// Closed reports whether Close has been called.
func (q *PacketQueue) Closed() bool {
	return q.closed.Load()
}

func (q *PacketQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Stats returns queue statistics
func (q *PacketQueue) Stats() QueueStats {
	return QueueStats{
		Kind:    q.kind.String(),
		Depth:   q.depth.Load(),
		Puts:    q.puts.Load(),
		Gets:    q.gets.Load(),
		Flushed: q.flushed.Load(),
		Closed:  q.closed.Load(),
	}
}

// QueueStats contains queue statistics
type QueueStats struct {
	Kind    string `json:"kind"`
	Depth   int64  `json:"depth"`
	Puts    uint64 `json:"puts"`
	Gets    uint64 `json:"gets"`
	Flushed uint64 `json:"flushed"`
	Closed  bool   `json:"closed"`
}
