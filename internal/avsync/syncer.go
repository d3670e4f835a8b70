// Package avsync paces video against the audio master clock.
package avsync

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/metrics"
)

// MasterClock is the audio clock corrected for output latency.
type MasterClock interface {
	Clock() float64
}

// VideoClock is the presentation time of the latest decoded video frame.
type VideoClock interface {
	Now() float64
}

type Mode string

const (
	ModeAudioMaster Mode = "audio-master"
	ModeFreeRun     Mode = "free-run"
)

// Syncer computes the delay before the next video refresh.
type Syncer struct {
	cfg   config.SyncConfig
	video VideoClock
	log   *logger.SampledLogger

	mu     sync.Mutex
	master MasterClock

	lastPTS  float64
	havePTS  bool
	nominal  time.Duration
	window   []float64
	next     int
	filled   int
	lastDiff float64
	last     time.Duration

	ticks       uint64
	corrections uint64
	unsynced    uint64
}

// New creates a syncer. A nil master starts it in free-run mode.
func New(cfg config.SyncConfig, video VideoClock, master MasterClock, log logger.Logger) *Syncer {
	if cfg.DriftWindow < 1 {
		cfg.DriftWindow = 1
	}
	return &Syncer{
		cfg:     cfg,
		video:   video,
		master:  master,
		log:     logger.NewPlaybackLogger(logger.WithComponent(log, "syncer")),
		nominal: cfg.DefaultFrameDuration,
		window:  make([]float64, cfg.DriftWindow),
	}
}

// SetMaster replaces the master clock; nil switches to free-run.
func (s *Syncer) SetMaster(master MasterClock) {
	s.mu.Lock()
	s.master = master
	s.mu.Unlock()
}

func (s *Syncer) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode()
}

func (s *Syncer) mode() Mode {
	if s.master == nil {
		return ModeFreeRun
	}
	return ModeAudioMaster
}

// NextDelay returns how long to wait before presenting the next frame.
//
// The nominal delay is the spacing of the last two video timestamps. When the
// video clock is off the audio clock by more than one frame (bounded to
// [threshold_min, threshold_max]) a proportional share of the drift is added,
// capped at max_correction_step so large drifts decay over several ticks.
// Drifts beyond no_sync_threshold are left alone. The result is never below min_delay.
func (s *Syncer) NextDelay() time.Duration {
	v := s.video.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++
	s.updateNominal(v)
	delay := s.nominal

	if s.master != nil {
		drift := v - s.master.Clock()
		s.record(drift)
		metrics.SetDrift(drift)

		threshold := clampDuration(s.nominal, s.cfg.ThresholdMin, s.cfg.ThresholdMax).Seconds()
		switch {
		case math.Abs(drift) >= s.cfg.NoSyncThreshold.Seconds():
			s.unsynced++
		case math.Abs(drift) > threshold:
			maxStep := s.cfg.MaxCorrectionStep.Seconds()
			corr := math.Max(-maxStep, math.Min(maxStep, s.cfg.CorrectionFactor*drift))
			delay += time.Duration(corr * float64(time.Second))
			s.corrections++
			s.log.Sampled(logrus.DebugLevel, logger.CategorySyncAdjustment, "Correcting A/V drift", logger.Fields{
				"drift_ms":      drift * 1000,
				"correction_ms": corr * 1000,
			})
		}
	}

	if delay < s.cfg.MinDelay {
		delay = s.cfg.MinDelay
	}
	s.last = delay
	metrics.ObserveFrameDelay(delay)
	return delay
}

// updateNominal keeps the last plausible frame spacing.
func (s *Syncer) updateNominal(pts float64) {
	if s.havePTS && pts != s.lastPTS {
		d := pts - s.lastPTS
		if d > 0 && d < 1 {
			s.nominal = time.Duration(d * float64(time.Second))
		}
	}
	s.lastPTS = pts
	s.havePTS = true
}

func (s *Syncer) record(drift float64) {
	s.lastDiff = drift
	s.window[s.next] = drift
	s.next = (s.next + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}
}

// Reset forgets frame spacing and drift history. Called on seek.
func (s *Syncer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.havePTS = false
	s.nominal = s.cfg.DefaultFrameDuration
	s.next, s.filled = 0, 0
	s.lastDiff = 0
}

type Stats struct {
	Mode          Mode          `json:"mode"`
	Drift         float64       `json:"drift_seconds"`
	MeanDrift     float64       `json:"mean_drift_seconds"`
	MaxDrift      float64       `json:"max_abs_drift_seconds"`
	FrameDuration time.Duration `json:"frame_duration"`
	LastDelay     time.Duration `json:"last_delay"`
	Ticks         uint64        `json:"ticks"`
	Corrections   uint64        `json:"corrections"`
	Unsynced      uint64        `json:"unsynced"`
}

func (s *Syncer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Mode:          s.mode(),
		Drift:         s.lastDiff,
		FrameDuration: s.nominal,
		LastDelay:     s.last,
		Ticks:         s.ticks,
		Corrections:   s.corrections,
		Unsynced:      s.unsynced,
	}
	if s.filled > 0 {
		var sum float64
		for _, d := range s.window[:s.filled] {
			sum += d
			st.MaxDrift = math.Max(st.MaxDrift, math.Abs(d))
		}
		st.MeanDrift = sum / float64(s.filled)
	}
	return st
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
