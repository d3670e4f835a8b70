// Package audio adapts the audio decode worker to a pull-model output device
// and derives the master clock from what the device has actually played.
package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/cadence/internal/clock"
	"github.com/zsiec/cadence/internal/control"
	"github.com/zsiec/cadence/internal/decode"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/metrics"
)

// Source yields decoded audio on demand.
type Source interface {
	Next(ctx context.Context) (media.DecodedUnit, error)
}

// Stream is the io.Reader handed to the output device. Every Read fills the
// whole buffer, decoding more as the carried-over samples run out and padding
// with silence when nothing arrives within the underrun wait.
type Stream struct {
	source       Source
	clock        *clock.Presentation
	format       media.AudioFormat
	ctl          *control.Playback
	underrunWait time.Duration

	mu  sync.Mutex
	buf []byte
	gen uint64

	device atomic.Pointer[deviceRef]

	played    atomic.Uint64
	silence   atomic.Uint64
	underruns atomic.Uint64

	log *logger.SampledLogger
}

type deviceRef struct{ d Device }

func NewStream(source Source, clk *clock.Presentation, format media.AudioFormat, ctl *control.Playback, underrunWait time.Duration, log logger.Logger) *Stream {
	if underrunWait <= 0 {
		underrunWait = 20 * time.Millisecond
	}
	return &Stream{
		source:       source,
		clock:        clk,
		format:       format,
		ctl:          ctl,
		underrunWait: underrunWait,
		log:          logger.NewPlaybackLogger(logger.WithComponent(log, "audio")),
	}
}

// Format is the PCM layout Read produces.
func (s *Stream) Format() media.AudioFormat { return s.format }

// Attach tells the stream which device consumes it, for latency correction.
func (s *Stream) Attach(d Device) {
	s.device.Store(&deviceRef{d: d})
}

// Read fills p completely. It never returns an error: the device keeps pulling
// silence while playback is stopped or starved.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	gen := s.gen
	s.mu.Unlock()

	for n < len(p) {
		if s.ctl.Quitting() || s.ctl.Stopped() {
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.underrunWait)
		u, err := s.source.Next(ctx)
		cancel()
		if err != nil {
			s.starved(err, len(p)-n)
			break
		}
		if u.Audio == nil || len(u.Audio.Data) == 0 {
			continue
		}

		s.mu.Lock()
		if s.gen != gen {
			// A seek reset the stream while we were decoding.
			s.mu.Unlock()
			continue
		}
		c := copy(p[n:], u.Audio.Data)
		n += c
		if c < len(u.Audio.Data) {
			s.buf = append(s.buf[:0], u.Audio.Data[c:]...)
		}
		s.mu.Unlock()
	}

	s.played.Add(uint64(n))
	if n < len(p) {
		clear(p[n:])
		s.silence.Add(uint64(len(p) - n))
	}
	return len(p), nil
}

func (s *Stream) starved(err error, missing int) {
	if errors.Is(err, decode.ErrEndOfStream) || errors.Is(err, decode.ErrStopped) {
		return
	}
	s.underruns.Add(1)
	metrics.IncrementAudioUnderrun()
	s.log.Sampled(logrus.DebugLevel, logger.CategoryAudioUnderrun, "Audio underrun, padding with silence", logger.Fields{
		"missing_bytes": missing,
		"error":         err.Error(),
	})
}

// Clock is the master clock: the audio stream clock minus the audio that has
// been decoded but is not yet audible.
func (s *Stream) Clock() float64 {
	s.mu.Lock()
	pending := len(s.buf)
	s.mu.Unlock()

	if ref := s.device.Load(); ref != nil && ref.d != nil {
		pending += ref.d.Buffered()
	}
	return s.clock.End() - s.format.Seconds(pending)
}

// Reset discards carried-over samples and any unit being decoded. Called on seek.
func (s *Stream) Reset() {
	s.mu.Lock()
	s.buf = nil
	s.gen++
	s.mu.Unlock()
}

// Buffered is the number of decoded bytes carried over to the next Read.
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

type Stats struct {
	PlayedBytes  uint64 `json:"played_bytes"`
	SilenceBytes uint64 `json:"silence_bytes"`
	Underruns    uint64 `json:"underruns"`
	Buffered     int    `json:"buffered_bytes"`
}

func (s *Stream) Stats() Stats {
	return Stats{
		PlayedBytes:  s.played.Load(),
		SilenceBytes: s.silence.Load(),
		Underruns:    s.underruns.Load(),
		Buffered:     s.Buffered(),
	}
}
