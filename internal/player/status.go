package player

import (
	"time"

	"github.com/zsiec/cadence/internal/audio"
	"github.com/zsiec/cadence/internal/avsync"
	"github.com/zsiec/cadence/internal/decode"
	"github.com/zsiec/cadence/internal/dispatch"
	"github.com/zsiec/cadence/internal/handoff"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/present"
)

// Playback states reported by Status.
const (
	StateIdle    = "idle"
	StatePlaying = "playing"
	StatePaused  = "paused"
	StateEnding  = "ending"
)

// Status is a point-in-time snapshot of the player for control surfaces.
type Status struct {
	State      string  `json:"state"`
	SessionID  string  `json:"session_id,omitempty"`
	Media      string  `json:"media,omitempty"`
	Position   float64 `json:"position_seconds"`
	Duration   float64 `json:"duration_seconds"`
	Volume     float64 `json:"volume"`
	Fullscreen bool    `json:"fullscreen"`
	Restarts   int     `json:"restarts"`
	Uptime     string  `json:"uptime,omitempty"`
	Subtitle   string  `json:"subtitle,omitempty"`

	SyncMode string             `json:"sync_mode,omitempty"`
	Sync     *avsync.Stats      `json:"sync,omitempty"`
	Queues   map[string]int     `json:"queues,omitempty"`
	Clocks   map[string]float64 `json:"clocks,omitempty"`

	Dispatcher *dispatch.Stats `json:"dispatcher,omitempty"`
	Decoders   []decode.Stats  `json:"decoders,omitempty"`
	Handoff    *handoff.Stats  `json:"handoff,omitempty"`
	Presenter  *present.Stats  `json:"presenter,omitempty"`
	Audio      *audio.Stats    `json:"audio,omitempty"`
	LastSeek   *SeekReport     `json:"last_seek,omitempty"`
}

// Status reports the current session. Safe to call from any goroutine.
func (p *Player) Status() Status {
	p.mu.RLock()
	s := p.session
	st := Status{
		State:      StateIdle,
		Volume:     p.volume.Level(),
		Fullscreen: p.fullscreen,
		Restarts:   p.restarts,
	}
	p.mu.RUnlock()

	if s == nil {
		return st
	}

	st.SessionID = s.id
	st.Media = s.url
	st.Position = s.position()
	st.Duration = s.duration.Seconds()
	st.Uptime = time.Since(s.started).Round(time.Second).String()
	st.Subtitle = s.subs.Active(st.Position)

	switch {
	case s.ctl.Quitting():
		st.State = StateEnding
	case s.ctl.Stopped():
		st.State = StatePaused
	default:
		st.State = StatePlaying
	}

	syncStats := s.syncer.Stats()
	st.SyncMode = string(syncStats.Mode)
	st.Sync = &syncStats
	st.Queues = s.queueLens()
	st.Clocks = make(map[string]float64, len(s.clocks))
	for kind, c := range s.clocks {
		st.Clocks[kind.String()] = c.Now()
	}

	ds := s.dispatcher.Stats()
	st.Dispatcher = &ds
	for _, kind := range media.Kinds {
		if w, ok := s.workers[kind]; ok {
			st.Decoders = append(st.Decoders, w.Stats())
		}
	}
	hs := s.slot.Stats()
	st.Handoff = &hs
	ps := s.driver.Stats()
	st.Presenter = &ps
	if s.stream != nil {
		as := s.stream.Stats()
		st.Audio = &as
	}
	st.LastSeek = s.seekReport()
	return st
}

// LastSeek returns the report of the most recent successful reposition.
func (p *Player) LastSeek() (SeekReport, bool) {
	s := p.current()
	if s == nil {
		return SeekReport{}, false
	}
	if r := s.seekReport(); r != nil {
		return *r, true
	}
	return SeekReport{}, false
}
