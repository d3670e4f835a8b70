// Package player assembles a playback session and runs its control loop:
// refresh ticks, user commands, seeks and restarts.
package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/cadence/internal/audio"
	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/control"
	apperrors "github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/history"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/present"
)

var (
	ErrNotOpen      = errors.New("player: no media open")
	ErrCommandsFull = errors.New("player: command queue full")
)

const (
	commandBuffer  = 32
	eventPoll      = 10 * time.Millisecond
	historyTimeout = 2 * time.Second
)

// History persists resume positions per media URL.
type History interface {
	Save(ctx context.Context, url string, position, duration float64) error
	Load(ctx context.Context, url string) (history.Entry, bool, error)
	Delete(ctx context.Context, url string) error
}

type Options struct {
	Config  *config.Config
	Opener  media.Opener
	Display present.Display
	// Audio opens the output device; nil plays video only.
	Audio   audio.DeviceOpener
	History History
	Logger  logger.Logger
}

// Player owns the display and volume across sessions. Play must run on the
// goroutine that owns the display; Submit and Status are safe from any goroutine.
type Player struct {
	cfg     *config.Config
	opener  media.Opener
	display present.Display
	events  present.EventSource
	audio   audio.DeviceOpener
	history History
	log     logger.Logger

	volume      *control.Volume
	seekLimiter *rate.Limiter
	commands    chan control.Command

	mu         sync.RWMutex
	session    *session
	fullscreen bool
	restarts   int
}

func New(opts Options) (*Player, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Opener == nil || opts.Display == nil {
		return nil, apperrors.NewInternalError("player requires an opener and a display")
	}
	p := &Player{
		cfg:         opts.Config,
		opener:      opts.Opener,
		display:     opts.Display,
		audio:       opts.Audio,
		history:     opts.History,
		log:         logger.WithComponent(opts.Logger, "player"),
		volume:      control.NewVolume(opts.Config.Playback.InitialVolume),
		seekLimiter: rate.NewLimiter(rate.Limit(opts.Config.Playback.SeekRate), opts.Config.Playback.SeekBurst),
		commands:    make(chan control.Command, commandBuffer),
		fullscreen:  opts.Config.Display.Fullscreen,
	}
	if src, ok := opts.Display.(present.EventSource); ok {
		p.events = src
	}
	if !p.cfg.Audio.Enabled {
		p.audio = nil
	}
	metrics.SetVolume(p.volume.Level())
	return p, nil
}

// Open opens the media to play. Play consumes it; call Open again to play
// something else afterwards.
func (p *Player) Open(url string) error {
	s, err := openSession(url, p.deps())
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
	return nil
}

func (p *Player) deps() sessionDeps {
	return sessionDeps{
		cfg:     p.cfg,
		opener:  p.opener,
		display: p.display,
		audio:   p.audio,
		volume:  p.volume.Level(),
		log:     p.log,
	}
}

func (p *Player) current() *session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

// Play runs sessions until the media ends, the user quits, ctx is canceled or
// a fatal error occurs. A restart reopens the same media and keeps going.
func (p *Player) Play(ctx context.Context) error {
	if err := p.display.SetFullscreen(p.fullscreen); err != nil {
		p.log.WithError(err).Warn("Failed to apply fullscreen")
	}

	for {
		s := p.current()
		if s == nil {
			return ErrNotOpen
		}

		err := p.run(ctx, s)
		if !errors.Is(err, control.ErrRestart) {
			p.mu.Lock()
			p.session = nil
			p.mu.Unlock()
			return err
		}

		p.log.WithField("media", s.url).Info("Restarting playback")
		next, err := openSession(s.url, p.deps())
		p.mu.Lock()
		p.session = next
		if err == nil {
			p.restarts++
		}
		p.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

func (p *Player) run(ctx context.Context, s *session) error {
	s.start(ctx)
	if p.cfg.Playback.Resume {
		p.resumeFromHistory(ctx, s)
	}

	timer := time.NewTimer(s.driver.FirstTick())
	defer timer.Stop()

	var poll <-chan time.Time
	if p.events != nil {
		t := time.NewTicker(eventPoll)
		defer t.Stop()
		poll = t.C
	}

	for {
		select {
		case <-ctx.Done():
			s.ctl.Quit(control.ErrUserQuit)
			return p.finish(s)
		case <-s.ctl.Done():
			return p.finish(s)
		case cmd := <-p.commands:
			p.handle(s, cmd, timer)
		case <-poll:
			p.events.PollEvents(func(cmd control.Command) {
				p.handle(s, cmd, timer)
			})
		case <-timer.C:
			timer.Reset(s.driver.Schedule())
			s.driver.Refresh(ctx)
		}
	}
}

// finish tears the session down and maps its end reason to Play's result.
func (p *Player) finish(s *session) error {
	reason := s.ctl.Err()
	pos := s.position()

	s.teardown()
	metrics.IncrementSession(reasonLabel(reason))
	p.log.WithFields(logger.Fields{
		"session_id": s.id,
		"reason":     reasonLabel(reason),
		"position":   pos,
	}).Info("Session ended")

	switch {
	case errors.Is(reason, control.ErrUserQuit):
		p.saveHistory(s.url, pos, s.duration.Seconds())
		return nil
	case errors.Is(reason, control.ErrEndOfStream):
		p.clearHistory(s.url)
		return nil
	default:
		return reason
	}
}

// Submit queues a command for the control loop without blocking.
func (p *Player) Submit(cmd control.Command) error {
	select {
	case p.commands <- cmd:
		return nil
	default:
		return ErrCommandsFull
	}
}

func (p *Player) handle(s *session, cmd control.Command, timer *time.Timer) {
	log := p.log.WithFields(logger.Fields{"op": cmd.Op.String(), "value": cmd.Value})
	log.Debug("Handling command")

	switch cmd.Op {
	case control.OpTogglePause:
		if s.ctl.Stopped() {
			s.resume()
		} else {
			s.pause()
		}
	case control.OpPause:
		s.pause()
	case control.OpResume:
		s.resume()
	case control.OpSeek:
		p.seek(s, cmd.Value, timer)
	case control.OpVolumeStep:
		p.applyVolume(s, p.volume.Step(cmd.Value))
	case control.OpVolumeSet:
		p.applyVolume(s, p.volume.Set(cmd.Value))
	case control.OpToggleFullscreen:
		p.toggleFullscreen()
	case control.OpRestart:
		s.ctl.Quit(control.ErrRestart)
	case control.OpQuit:
		s.ctl.Quit(control.ErrUserQuit)
	default:
		log.Warn("Ignoring unknown command")
	}
}

func (p *Player) applyVolume(s *session, level float64) {
	if s.device != nil {
		s.device.SetVolume(level)
	}
	metrics.SetVolume(level)
}

func (p *Player) toggleFullscreen() {
	p.mu.Lock()
	p.fullscreen = !p.fullscreen
	on := p.fullscreen
	p.mu.Unlock()

	if err := p.display.SetFullscreen(on); err != nil {
		p.log.WithError(apperrors.NewDisplayError(err)).Warn("Failed to toggle fullscreen")
	}
}

func (p *Player) resumeFromHistory(ctx context.Context, s *session) {
	if p.history == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	entry, ok, err := p.history.Load(hctx, s.url)
	if err != nil {
		p.log.WithError(err).Warn("Failed to load resume position")
		return
	}
	if !ok {
		return
	}
	p.log.WithField("position", entry.Position).Info("Resuming from saved position")
	if err := p.seekTo(s, entry.Position, media.SeekBackward); err != nil {
		s.ctl.Quit(apperrors.NewSeekError(entry.Position, err))
	}
}

func (p *Player) saveHistory(url string, position, duration float64) {
	if p.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := p.history.Save(ctx, url, position, duration); err != nil {
		p.log.WithError(err).Warn("Failed to save resume position")
	}
}

func (p *Player) clearHistory(url string) {
	if p.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := p.history.Delete(ctx, url); err != nil {
		p.log.WithError(err).Warn("Failed to clear resume position")
	}
}

func reasonLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, control.ErrEndOfStream):
		return "end_of_stream"
	case errors.Is(err, control.ErrUserQuit):
		return "quit"
	case errors.Is(err, control.ErrRestart):
		return "restart"
	}
	if appErr, ok := apperrors.GetAppError(err); ok {
		return string(appErr.Type)
	}
	return "error"
}
