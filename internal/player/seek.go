package player

import (
	"time"

	apperrors "github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/metrics"
)

// SeekReport describes the pipeline right after the last reposition, captured
// while the dispatcher still held its read lock.
type SeekReport struct {
	Target     float64        `json:"target_seconds"`
	Direction  string         `json:"direction"`
	VideoClock float64        `json:"video_clock"`
	QueueLens  map[string]int `json:"queue_lengths"`
	At         time.Time      `json:"at"`
}

// seek moves playback by offset seconds relative to the video clock.
func (p *Player) seek(s *session, offset float64, timer *time.Timer) {
	if !p.seekLimiter.Allow() {
		metrics.IncrementSeek("rate_limited")
		p.log.WithField("offset", offset).Debug("Seek dropped by rate limit")
		return
	}

	dir := media.SeekForward
	if offset < 0 {
		dir = media.SeekBackward
	}
	target := s.position() + offset

	if err := p.seekTo(s, target, dir); err != nil {
		s.ctl.Quit(apperrors.NewSeekError(target, err))
		return
	}
	resetTimer(timer, s.driver.FirstTick())
}

// seekTo stops playback, repositions the container, flushes every stage of the
// pipeline and resumes. On failure playback stays stopped.
func (p *Player) seekTo(s *session, target float64, dir media.SeekDirection) error {
	target = s.clampTarget(target, p.cfg.Playback.EndGuard)

	s.pause()
	err := s.dispatcher.Seek(seconds(target), dir, func() {
		s.flush(target)
		s.recordSeek(target, dir)
	})
	if err != nil {
		metrics.IncrementSeek("error")
		p.log.WithError(err).WithField("target", target).Error("Seek failed")
		return err
	}

	metrics.IncrementSeek("ok")
	p.log.WithFields(map[string]interface{}{
		"target":    target,
		"direction": dir.String(),
	}).Info("Seeked")
	s.resume()
	return nil
}

// clampTarget keeps target within [0, duration - guard]. Unknown durations
// only clamp at zero.
func (s *session) clampTarget(target float64, guard time.Duration) float64 {
	if s.duration > 0 {
		if limit := (s.duration - guard).Seconds(); target > limit {
			target = limit
		}
	}
	if target < 0 {
		target = 0
	}
	return target
}

// flush discards everything queued or decoded before the reposition and
// moves every clock to target. Runs under the dispatcher's read lock.
func (s *session) flush(target float64) {
	for _, q := range s.queues {
		metrics.AddUnitsDropped("flush", q.Flush())
	}
	// Each worker moves its own clock so a decode still in flight cannot
	// stamp a pre-seek time over the target.
	for kind, c := range s.clocks {
		if w, ok := s.workers[kind]; ok {
			w.Reset(target)
		} else {
			c.Reset(target)
		}
	}
	s.slot.Drop()
	s.subs.Reset()
	s.syncer.Reset()
	if s.stream != nil {
		s.stream.Reset()
	}
}

func (s *session) recordSeek(target float64, dir media.SeekDirection) {
	report := &SeekReport{
		Target:     target,
		Direction:  dir.String(),
		VideoClock: s.position(),
		QueueLens:  s.queueLens(),
		At:         time.Now(),
	}
	s.seekMu.Lock()
	s.lastSeek = report
	s.seekMu.Unlock()
}

func (s *session) seekReport() *SeekReport {
	s.seekMu.Lock()
	defer s.seekMu.Unlock()
	return s.lastSeek
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
