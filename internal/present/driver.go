// Package present drives the refresh cadence: each tick asks the syncer for the
// next delay, then takes one frame from the handoff slot and shows it.
package present

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/cadence/internal/avsync"
	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/control"
	"github.com/zsiec/cadence/internal/handoff"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/subtitle"
)

type Options struct {
	Display   Display
	Slot      *handoff.Slot
	Syncer    *avsync.Syncer
	Video     avsync.VideoClock
	Subtitles *subtitle.Track
	Control   *control.Playback
	Playback  config.PlaybackConfig
	Overlay   bool
	Logger    logger.Logger
}

type Driver struct {
	display Display
	slot    *handoff.Slot
	syncer  *avsync.Syncer
	video   avsync.VideoClock
	subs    *subtitle.Track
	ctl     *control.Playback
	cfg     config.PlaybackConfig
	overlay bool

	presented atomic.Uint64
	waits     atomic.Uint64
	lastPTS   atomic.Uint64
	lastErr   atomic.Pointer[error]

	log *logger.SampledLogger
}

func NewDriver(opts Options) *Driver {
	return &Driver{
		display: opts.Display,
		slot:    opts.Slot,
		syncer:  opts.Syncer,
		video:   opts.Video,
		subs:    opts.Subtitles,
		ctl:     opts.Control,
		cfg:     opts.Playback,
		overlay: opts.Overlay,
		log:     logger.NewPlaybackLogger(logger.WithComponent(opts.Logger, "presenter")),
	}
}

// FirstTick is the delay before the first refresh.
func (d *Driver) FirstTick() time.Duration {
	return d.cfg.FirstTick
}

// Schedule returns the delay until the next tick. While stopped the loop idles
// at a fixed rate without consulting the syncer.
func (d *Driver) Schedule() time.Duration {
	if d.ctl.Stopped() {
		return d.cfg.StoppedTick
	}
	return d.syncer.NextDelay()
}

// Refresh shows the next frame, waiting at most frame_wait for the decoder.
// Returns true if a frame was presented.
func (d *Driver) Refresh(ctx context.Context) bool {
	if d.ctl.Stopped() || d.ctl.Quitting() {
		return false
	}

	wctx, cancel := context.WithTimeout(ctx, d.cfg.FrameWait)
	defer cancel()

	var shown bool
	err := d.slot.Consume(wctx, func(f *media.VideoFrame) {
		shown = d.show(f)
	})
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		d.waits.Add(1)
		d.log.Sampled(logrus.DebugLevel, logger.CategoryFrameWait, "No frame ready within wait", logger.Fields{
			"wait": d.cfg.FrameWait.String(),
		})
	case errors.Is(err, handoff.ErrClosed), errors.Is(err, context.Canceled):
	default:
		d.log.WithError(err).Warn("Frame handoff failed")
	}
	return shown
}

func (d *Driver) show(f *media.VideoFrame) bool {
	if err := d.display.UpdateFrame(f); err != nil {
		d.fail(err)
		return false
	}

	ov := Overlay{Enabled: d.overlay, Clock: d.video.Now()}
	if d.subs != nil {
		ov.Subtitle = d.subs.Active(ov.Clock)
	}
	if err := d.display.Present(ov); err != nil {
		d.fail(err)
		return false
	}

	d.presented.Add(1)
	d.lastPTS.Store(math.Float64bits(f.PTS))
	metrics.IncrementFramesPresented()
	return true
}

func (d *Driver) fail(err error) {
	d.lastErr.Store(&err)
	d.log.WithError(err).Warn("Display update failed")
}

type Stats struct {
	Presented uint64  `json:"presented"`
	Waits     uint64  `json:"frame_waits"`
	LastPTS   float64 `json:"last_pts"`
	LastError string  `json:"last_error,omitempty"`
}

func (d *Driver) Stats() Stats {
	st := Stats{
		Presented: d.presented.Load(),
		Waits:     d.waits.Load(),
		LastPTS:   math.Float64frombits(d.lastPTS.Load()),
	}
	if e := d.lastErr.Load(); e != nil {
		st.LastError = (*e).Error()
	}
	return st
}
