// Package headless provides outputs without a window or sound card: a display
// that records what it is shown and an audio device that consumes PCM at the
// wall-clock rate. Used in CI and by tests.
package headless

import (
	"errors"
	"sync"

	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/present"
)

var ErrClosed = errors.New("headless: output closed")

// Display keeps the last frame and overlay it was given.
type Display struct {
	mu         sync.Mutex
	frame      *media.VideoFrame
	overlay    present.Overlay
	uploads    int
	presents   int
	fullscreen bool
	closed     bool
}

func NewDisplay() *Display {
	return &Display{}
}

func (d *Display) UpdateFrame(frame *media.VideoFrame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.frame = frame
	d.uploads++
	return nil
}

func (d *Display) Present(overlay present.Overlay) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.overlay = overlay
	d.presents++
	return nil
}

func (d *Display) SetFullscreen(on bool) error {
	d.mu.Lock()
	d.fullscreen = on
	d.mu.Unlock()
	return nil
}

func (d *Display) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Presented is the number of frames shown so far.
func (d *Display) Presented() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presents
}

// Last returns the last frame and overlay shown, nil before the first frame.
func (d *Display) Last() (*media.VideoFrame, present.Overlay) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame, d.overlay
}

func (d *Display) Fullscreen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullscreen
}
