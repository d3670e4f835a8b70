// Package control holds the playback state shared by every worker of a session
// and the commands a control surface can issue.
package control

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Termination reasons.
var (
	ErrEndOfStream = errors.New("end of stream")
	ErrUserQuit    = errors.New("quit requested")
	ErrRestart     = errors.New("restart requested")
)

// Playback is the stop/quit state of one session. Workers receive it at construction.
type Playback struct {
	stopped atomic.Bool

	quit     chan struct{}
	quitOnce sync.Once
	reason   atomic.Pointer[error]
}

// NewPlayback creates a running, not stopped, playback state.
func NewPlayback() *Playback {
	return &Playback{quit: make(chan struct{})}
}

// Stop pauses consumption. Workers observe it between units.
func (p *Playback) Stop() {
	p.stopped.Store(true)
}

// Resume clears the stop flag.
func (p *Playback) Resume() {
	p.stopped.Store(false)
}

// Toggle flips the stop flag and reports whether playback is now stopped.
func (p *Playback) Toggle() bool {
	for {
		old := p.stopped.Load()
		if p.stopped.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Stopped reports whether playback is stopped.
func (p *Playback) Stopped() bool {
	return p.stopped.Load()
}

// Quit ends the session. Only the first reason is kept; later calls return false.
func (p *Playback) Quit(reason error) bool {
	first := false
	p.quitOnce.Do(func() {
		if reason == nil {
			reason = ErrUserQuit
		}
		p.reason.Store(&reason)
		close(p.quit)
		first = true
	})
	return first
}

// Done is closed once Quit has been called.
func (p *Playback) Done() <-chan struct{} {
	return p.quit
}

// Quitting reports whether Quit has been called.
func (p *Playback) Quitting() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}

// Err returns the termination reason, or nil while running.
func (p *Playback) Err() error {
	if r := p.reason.Load(); r != nil {
		return *r
	}
	return nil
}

// Graceful reports whether the session ended without a fault.
func (p *Playback) Graceful() bool {
	err := p.Err()
	return err == nil || errors.Is(err, ErrEndOfStream) || errors.Is(err, ErrUserQuit) || errors.Is(err, ErrRestart)
}

// Sleep waits for d and returns false if the session quit first.
func (p *Playback) Sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.quit:
		return false
	}
}
