// Package handoff passes decoded video frames to the presentation loop one at a time.
package handoff

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zsiec/cadence/internal/media"
)

var ErrClosed = errors.New("handoff: slot closed")

// Slot is a depth-1 exchange between the video decode worker and the presenter.
//
// A single token circulates between free and ready. The producer takes it from
// free to publish a frame, the consumer returns it after displaying, so at most
// one undisplayed frame exists and a frame is never overwritten.
type Slot struct {
	free   chan struct{}
	ready  chan *media.VideoFrame
	closed chan struct{}
	once   sync.Once

	// mu orders publishing against Drop.
	mu sync.Mutex
	// epoch advances on Drop; an Offer that started before a Drop discards its frame.
	epoch atomic.Uint64

	offered  atomic.Uint64
	consumed atomic.Uint64
	dropped  atomic.Uint64
}

// New returns an empty slot.
func New() *Slot {
	s := &Slot{
		free:   make(chan struct{}, 1),
		ready:  make(chan *media.VideoFrame, 1),
		closed: make(chan struct{}),
	}
	s.free <- struct{}{}
	return s
}

// Epoch identifies the current flush interval.
func (s *Slot) Epoch() uint64 {
	return s.epoch.Load()
}

// Offer publishes frame, blocking while a previous frame is still undisplayed.
func (s *Slot) Offer(ctx context.Context, frame *media.VideoFrame) error {
	return s.OfferAt(ctx, s.Epoch(), frame)
}

// OfferAt is Offer for a frame that belongs to epoch. The frame is discarded
// if a Drop happened since.
func (s *Slot) OfferAt(ctx context.Context, epoch uint64, frame *media.VideoFrame) error {
	select {
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-s.free:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed() {
		s.free <- struct{}{}
		return ErrClosed
	}
	if s.epoch.Load() != epoch {
		s.dropped.Add(1)
		s.free <- struct{}{}
		return nil
	}

	s.offered.Add(1)
	s.ready <- frame
	return nil
}

// Consume waits for a frame and hands it to fn. The slot is freed after fn returns.
func (s *Slot) Consume(ctx context.Context, fn func(*media.VideoFrame)) error {
	var frame *media.VideoFrame
	select {
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case frame = <-s.ready:
	}

	// Woken by data, but shutdown may have raced it.
	if s.isClosed() {
		s.free <- struct{}{}
		return ErrClosed
	}

	fn(frame)
	s.consumed.Add(1)
	s.free <- struct{}{}
	return nil
}

// Drop discards the pending frame, if any, and invalidates in-flight offers.
// Returns true if a frame was discarded.
func (s *Slot) Drop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch.Add(1)
	select {
	case <-s.ready:
		s.dropped.Add(1)
		s.free <- struct{}{}
		return true
	default:
		return false
	}
}

// Pending reports whether an undisplayed frame is waiting.
func (s *Slot) Pending() bool {
	return len(s.ready) > 0
}

// Close wakes every blocked producer and consumer. Safe to call more than once.
func (s *Slot) Close() {
	s.once.Do(func() { close(s.closed) })
}

func (s *Slot) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type Stats struct {
	Offered  uint64 `json:"offered"`
	Consumed uint64 `json:"consumed"`
	Dropped  uint64 `json:"dropped"`
	Pending  bool   `json:"pending"`
}

func (s *Slot) Stats() Stats {
	return Stats{
		Offered:  s.offered.Load(),
		Consumed: s.consumed.Load(),
		Dropped:  s.dropped.Load(),
		Pending:  s.Pending(),
	}
}
