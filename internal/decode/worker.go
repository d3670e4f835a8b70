// Package decode runs the per-stream decode loop: take a compressed unit from
// the stream's queue, decode it, stamp it with a presentation time and hand it on.
package decode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/cadence/internal/clock"
	"github.com/zsiec/cadence/internal/control"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/queue"
)

var (
	// ErrEndOfStream is returned once the worker has consumed its stream's end marker.
	ErrEndOfStream = errors.New("decode: end of stream")
	// ErrStopped is returned after Quit or once the queue is closed.
	ErrStopped = errors.New("decode: worker stopped")
)

// State is the lifecycle phase of a Worker.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Sink receives decoded units in decode order.
type Sink interface {
	Emit(ctx context.Context, u media.DecodedUnit) error
}

// FencedSink is a Sink whose pending output is invalidated by a flush of its
// own. Epoch is read before the worker decides a unit is current and handed
// back with it, so a flush racing the emit discards the unit.
type FencedSink interface {
	Sink
	Epoch() uint64
	EmitAt(ctx context.Context, epoch uint64, u media.DecodedUnit) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, u media.DecodedUnit) error

func (f SinkFunc) Emit(ctx context.Context, u media.DecodedUnit) error { return f(ctx, u) }

// Options configures a Worker.
type Options struct {
	Kind     media.Kind
	Queue    *queue.PacketQueue
	Decoder  media.Decoder
	Clock    *clock.Presentation
	TimeBase media.Rational
	Control  *control.Playback

	// Sink is required for Run. Pull-driven workers (audio) call Next directly.
	Sink Sink

	// Terminal workers end the session when they reach the end of their stream.
	Terminal bool
	// StoppedPoll is the sleep between stop-flag checks while playback is stopped.
	StoppedPoll time.Duration

	Logger logger.Logger
}

// Worker decodes one elementary stream.
type Worker struct {
	kind     media.Kind
	queue    *queue.PacketQueue
	decoder  media.Decoder
	clock    *clock.Presentation
	timeBase media.Rational
	ctl      *control.Playback
	sink     Sink
	terminal bool
	poll     time.Duration

	state atomic.Int32
	// gen advances on Reset so units decoded before a seek are discarded.
	gen atomic.Uint64

	decodeMu  sync.Mutex
	pending   []media.DecodedUnit
	closeOnce sync.Once

	decoded atomic.Uint64
	errors  atomic.Uint64
	skipped atomic.Uint64

	log *logger.SampledLogger
}

// New returns an idle worker. Call Run for push-driven streams or Next for pull-driven ones.
func New(opts Options) *Worker {
	if opts.StoppedPoll <= 0 {
		opts.StoppedPoll = 100 * time.Millisecond
	}
	log := logger.WithComponent(opts.Logger, "decoder").WithField("stream", opts.Kind.String())
	return &Worker{
		kind:     opts.Kind,
		queue:    opts.Queue,
		decoder:  opts.Decoder,
		clock:    opts.Clock,
		timeBase: opts.TimeBase,
		ctl:      opts.Control,
		sink:     opts.Sink,
		terminal: opts.Terminal,
		poll:     opts.StoppedPoll,
		log:      logger.NewPlaybackLogger(log),
	}
}

// Kind is the stream kind the worker decodes.
func (w *Worker) Kind() media.Kind { return w.kind }

// State reports the current lifecycle phase.
func (w *Worker) State() State { return State(w.state.Load()) }

// Run drives the worker until the stream ends, the session quits or ctx is done.
// Reaching the end of the stream is not an error.
func (w *Worker) Run(ctx context.Context) error {
	if w.sink == nil {
		return fmt.Errorf("decode: %s worker has no sink", w.kind)
	}
	w.state.CompareAndSwap(int32(StateIdle), int32(StateRunning))

	metrics.IncrementGoroutineActive("decode_" + w.kind.String())
	defer metrics.DecrementGoroutineActive("decode_" + w.kind.String())

	for {
		if ctx.Err() != nil || w.ctl.Quitting() {
			return nil
		}
		if w.ctl.Stopped() {
			if !w.ctl.Sleep(w.poll) {
				return nil
			}
			continue
		}

		u, gen, err := w.next(ctx)
		switch {
		case errors.Is(err, ErrEndOfStream), errors.Is(err, ErrStopped):
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			return err
		}

		if err := w.emit(ctx, u, gen); err != nil {
			if ctx.Err() != nil || w.ctl.Quitting() {
				return nil
			}
			return fmt.Errorf("decode: emit %s unit: %w", w.kind, err)
		}
	}
}

// emit hands u to the sink unless a Reset happened after it was decoded.
func (w *Worker) emit(ctx context.Context, u media.DecodedUnit, gen uint64) error {
	fenced, ok := w.sink.(FencedSink)
	var epoch uint64
	if ok {
		epoch = fenced.Epoch()
	}
	if gen != w.gen.Load() {
		w.skipped.Add(1)
		return nil
	}
	if ok {
		return fenced.EmitAt(ctx, epoch, u)
	}
	return w.sink.Emit(ctx, u)
}

// Next blocks until the next decoded unit is available.
func (w *Worker) Next(ctx context.Context) (media.DecodedUnit, error) {
	u, _, err := w.next(ctx)
	return u, err
}

func (w *Worker) next(ctx context.Context) (media.DecodedUnit, uint64, error) {
	for {
		switch w.State() {
		case StateStopped:
			return media.DecodedUnit{}, 0, ErrStopped
		case StateDraining:
			return media.DecodedUnit{}, 0, ErrEndOfStream
		}

		w.decodeMu.Lock()
		if len(w.pending) > 0 {
			u := w.pending[0]
			w.pending = w.pending[1:]
			gen := w.gen.Load()
			w.decodeMu.Unlock()
			return u, gen, nil
		}
		w.decodeMu.Unlock()

		gen := w.gen.Load()
		unit, err := w.queue.Get(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return media.DecodedUnit{}, 0, ErrStopped
			}
			return media.DecodedUnit{}, 0, err
		}

		if unit.IsEndOfStream() {
			w.endOfStream()
			return media.DecodedUnit{}, 0, ErrEndOfStream
		}

		w.decodeMu.Lock()
		if w.State() == StateStopped {
			w.decodeMu.Unlock()
			return media.DecodedUnit{}, 0, ErrStopped
		}
		if gen != w.gen.Load() {
			// Taken from the queue before a seek flushed it.
			w.skipped.Add(1)
			w.decodeMu.Unlock()
			continue
		}

		outs, err := w.decoder.Decode(unit)
		if err != nil {
			w.decodeMu.Unlock()
			w.errors.Add(1)
			metrics.IncrementDecodeError(w.kind.String())
			w.log.Sampled(logrus.WarnLevel, logger.CategoryDecodeError, "Skipping undecodable unit", logger.Fields{
				"error": err.Error(),
			})
			continue
		}
		for i := range outs {
			w.stamp(&outs[i])
		}
		w.pending = append(w.pending, outs...)
		w.decoded.Add(uint64(len(outs)))
		w.decodeMu.Unlock()
	}
}

// stamp resolves the unit's presentation time and advances the stream clock.
// Decode timestamp first, then presentation timestamp, else the previous unit's end.
func (w *Worker) stamp(u *media.DecodedUnit) {
	ts := media.DecodeTime(u.DTS, u.PTS)
	var seconds float64
	if ts.Valid {
		seconds = w.timeBase.Seconds(ts.Value)
	}
	u.Time = w.clock.Observe(seconds, ts.Valid, u.Duration)
	if u.Video != nil {
		u.Video.PTS = u.Time
	}
}

func (w *Worker) endOfStream() {
	if !w.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		w.state.CompareAndSwap(int32(StateIdle), int32(StateDraining))
	}
	if w.terminal {
		w.log.Info("End of stream reached")
		w.ctl.Quit(control.ErrEndOfStream)
		return
	}
	w.log.Debug("Stream exhausted")
}

// Reset drops decoded units that have not been handed on yet and moves the
// stream clock to target. Units already taken from the queue are discarded
// once their decode completes. An in-flight decode stamps the clock before the
// reset lands, never after.
func (w *Worker) Reset(target float64) {
	w.decodeMu.Lock()
	defer w.decodeMu.Unlock()

	w.gen.Add(1)
	w.pending = nil
	w.clock.Reset(target)
	if !w.terminal {
		w.state.CompareAndSwap(int32(StateDraining), int32(StateRunning))
	}
}

// Quit stops the worker and closes its decoder session. Waits for an
// in-flight decode to finish.
func (w *Worker) Quit() error {
	w.state.Store(int32(StateStopped))

	var err error
	w.closeOnce.Do(func() {
		w.decodeMu.Lock()
		defer w.decodeMu.Unlock()
		w.pending = nil
		if w.decoder != nil {
			err = w.decoder.Close()
		}
	})
	return err
}

// Stats is a snapshot of the worker's counters.
type Stats struct {
	Kind    string `json:"kind"`
	State   string `json:"state"`
	Decoded uint64 `json:"decoded"`
	Errors  uint64 `json:"errors"`
	Skipped uint64 `json:"skipped"`
}

// Stats returns the current counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Kind:    w.kind.String(),
		State:   w.State().String(),
		Decoded: w.decoded.Load(),
		Errors:  w.errors.Load(),
		Skipped: w.skipped.Load(),
	}
}
