// Package oto plays audio through the system sound device.
package oto

import (
	"fmt"
	"io"
	"sync"
	"time"

	otov2 "github.com/hajimehoshi/oto/v2"

	"github.com/zsiec/cadence/internal/audio"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
)

// The sound card allows a single context per process; it is created on the
// first Open and reused by later sessions with the same format.
var (
	ctxMu     sync.Mutex
	ctx       *otov2.Context
	ctxFormat media.AudioFormat
)

func soundContext(format media.AudioFormat) (*otov2.Context, error) {
	ctxMu.Lock()
	defer ctxMu.Unlock()

	if ctx != nil {
		if format != ctxFormat {
			return nil, fmt.Errorf("oto: device already open at %d Hz x %d, cannot reopen at %d Hz x %d",
				ctxFormat.SampleRate, ctxFormat.Channels, format.SampleRate, format.Channels)
		}
		return ctx, nil
	}
	if format.BytesPerSample != 2 {
		return nil, fmt.Errorf("oto: unsupported sample size %d", format.BytesPerSample)
	}

	c, ready, err := otov2.NewContext(format.SampleRate, format.Channels, otov2.FormatSignedInt16LE)
	if err != nil {
		return nil, fmt.Errorf("oto: new context: %w", err)
	}
	<-ready
	ctx, ctxFormat = c, format
	return c, nil
}

// Opener opens players on the shared sound card context.
type Opener struct {
	// Buffer is how much audio the device may hold ahead of playback.
	Buffer time.Duration
	Logger logger.Logger
}

func NewOpener(buffer time.Duration, log logger.Logger) *Opener {
	return &Opener{Buffer: buffer, Logger: logger.WithComponent(log, "audio")}
}

func (o *Opener) Open(format media.AudioFormat, src io.Reader) (audio.Device, error) {
	c, err := soundContext(format)
	if err != nil {
		return nil, err
	}
	p := c.NewPlayer(src)
	if o.Buffer > 0 {
		if s, ok := p.(interface{ SetBufferSize(int) }); ok {
			n := int(o.Buffer.Seconds() * float64(format.BytesPerSecond()))
			n -= n % format.FrameSize()
			s.SetBufferSize(n)
		}
	}
	log := o.Logger
	if log == nil {
		log = logger.NewNullLogger()
	}
	log.WithFields(logger.Fields{
		"sample_rate": format.SampleRate,
		"channels":    format.Channels,
	}).Debug("Audio device opened")
	return &Device{player: p, log: log}, nil
}

// Device wraps one oto player. The player pulls from the source on oto's own
// goroutine.
type Device struct {
	player otov2.Player
	log    logger.Logger

	mu     sync.Mutex
	closed bool
}

func (d *Device) Play() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.player.Play()
	}
}

func (d *Device) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.player.Pause()
	}
}

func (d *Device) SetVolume(level float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.player.SetVolume(level)
	}
}

// Buffered reports bytes pulled from the source but not yet played.
func (d *Device) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}
	return d.player.UnplayedBufferSize()
}

// Err reports a failure of the pull loop, such as a source read error.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	return d.player.Err()
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.player.Close(); err != nil {
		return fmt.Errorf("oto: close player: %w", err)
	}
	return nil
}

var _ audio.Device = (*Device)(nil)
