// Package dispatch reads compressed units from the container and routes them
// to the per-stream queues.
package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/cadence/internal/control"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/queue"
)

type Options struct {
	// Threshold is the queue length above which reading pauses.
	Threshold int
	// Throttle is the sleep while paused.
	Throttle time.Duration
	Logger   logger.Logger
}

// Dispatcher is the single reader of a container. Every read and every
// reposition happens under one mutex, so a seek never lands mid-read.
type Dispatcher struct {
	container media.Container
	ctl       *control.Playback
	threshold int
	throttle  time.Duration

	mu sync.Mutex // guards container reads and seeks

	routes     map[int]*queue.PacketQueue
	queues     []*queue.PacketQueue
	video      *queue.PacketQueue
	videoIndex int

	read      atomic.Uint64
	routed    atomic.Uint64
	dropped   atomic.Uint64
	throttled atomic.Uint64
	seeks     atomic.Uint64
	eof       atomic.Bool

	log *logger.SampledLogger
}

func New(container media.Container, ctl *control.Playback, opts Options) *Dispatcher {
	if opts.Threshold <= 0 {
		opts.Threshold = 60
	}
	if opts.Throttle <= 0 {
		opts.Throttle = 100 * time.Millisecond
	}
	return &Dispatcher{
		container:  container,
		ctl:        ctl,
		threshold:  opts.Threshold,
		throttle:   opts.Throttle,
		routes:     make(map[int]*queue.PacketQueue),
		videoIndex: -1,
		log:        logger.NewPlaybackLogger(logger.WithComponent(opts.Logger, "dispatcher")),
	}
}

// Route sends units of the given stream index to q. The first video route
// receives the end-of-input marker. Must be called before Run.
func (d *Dispatcher) Route(streamIndex int, q *queue.PacketQueue) {
	d.routes[streamIndex] = q
	d.queues = append(d.queues, q)
	if q.Kind() == media.KindVideo && d.video == nil {
		d.video = q
		d.videoIndex = streamIndex
	}
}

// Run reads until the session quits or ctx is canceled. At end of input it
// queues the video end marker and idles until a seek or quit.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.video == nil {
		return media.ErrNoVideoStream
	}

	metrics.IncrementGoroutineActive("dispatcher")
	defer metrics.DecrementGoroutineActive("dispatcher")

	for {
		if ctx.Err() != nil || d.ctl.Quitting() {
			return nil
		}

		if d.eof.Load() {
			// Idle at end of input; a seek moves the read cursor back.
			if !d.ctl.Sleep(d.throttle) {
				return nil
			}
			continue
		}

		if reason := d.backpressure(); reason != "" {
			d.throttled.Add(1)
			metrics.IncrementDispatcherThrottle(reason)
			d.log.Sampled(logrus.DebugLevel, logger.CategoryThrottle, "Throttling reads", logger.Fields{"reason": reason})
			if !d.ctl.Sleep(d.throttle) {
				return nil
			}
			continue
		}

		if err := d.step(); err != nil {
			return err
		}
	}
}

// step reads one unit and routes it. Routing happens under the read lock too:
// a unit read before a seek is queued before the seek flushes the queues.
func (d *Dispatcher) step() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, err := d.container.ReadUnit()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			d.log.WithError(err).Warn("Read failed, treating as end of input")
		}
		d.eof.Store(true)
		if err := d.video.Put(media.EndOfStream(media.KindVideo, d.videoIndex)); err != nil && !errors.Is(err, queue.ErrClosed) {
			return err
		}
		d.log.Info("End of input")
		return nil
	}
	d.read.Add(1)

	q, ok := d.routes[u.StreamIndex]
	if !ok {
		d.dropped.Add(1)
		metrics.AddUnitsDropped("unrouted", 1)
		return nil
	}
	if err := q.Put(u); err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		return err
	}
	d.routed.Add(1)
	metrics.IncrementUnitsRouted(q.Kind().String())
	return nil
}

func (d *Dispatcher) backpressure() string {
	if d.ctl.Stopped() {
		return "stopped"
	}
	for _, q := range d.queues {
		if q.Len() > d.threshold {
			return "backlog_" + q.Kind().String()
		}
	}
	return ""
}

// Seek repositions the container to the keyframe nearest target in the given
// direction and, on success, calls onRepositioned while still holding the read
// lock so no pre-seek unit can be routed afterwards.
func (d *Dispatcher) Seek(target time.Duration, dir media.SeekDirection, onRepositioned func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.container.Seek(target, dir); err != nil {
		return err
	}
	d.seeks.Add(1)
	if d.eof.Swap(false) {
		// The end marker belongs to the old read position; reading resumes.
		if n := d.video.DropEndOfStream(); n > 0 {
			d.log.WithField("markers", n).Debug("Discarded end of input marker")
		}
	}
	if onRepositioned != nil {
		onRepositioned()
	}
	return nil
}

type Stats struct {
	Read      uint64 `json:"read"`
	Routed    uint64 `json:"routed"`
	Dropped   uint64 `json:"dropped"`
	Throttled uint64 `json:"throttled"`
	Seeks     uint64 `json:"seeks"`
	EOF       bool   `json:"eof"`
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Read:      d.read.Load(),
		Routed:    d.routed.Load(),
		Dropped:   d.dropped.Load(),
		Throttled: d.throttled.Load(),
		Seeks:     d.seeks.Load(),
		EOF:       d.eof.Load(),
	}
}
