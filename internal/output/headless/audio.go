package headless

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/cadence/internal/audio"
	"github.com/zsiec/cadence/internal/media"
)

// Opener opens paced devices reading one period of audio per tick.
type Opener struct {
	Period time.Duration
}

func NewOpener(period time.Duration) Opener {
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	return Opener{Period: period}
}

func (o Opener) Open(format media.AudioFormat, src io.Reader) (audio.Device, error) {
	return NewDevice(format, src, o.Period), nil
}

// Device pulls from its source like a sound card would: a fixed number of
// bytes per period, nothing while paused.
type Device struct {
	src    io.Reader
	period time.Duration
	chunk  []byte

	playing atomic.Bool
	volume  atomic.Uint64 // level * 1e4
	read    atomic.Uint64

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewDevice starts the pull goroutine paused.
func NewDevice(format media.AudioFormat, src io.Reader, period time.Duration) *Device {
	n := int(float64(format.BytesPerSecond()) * period.Seconds())
	if fs := format.FrameSize(); fs > 0 {
		n -= n % fs
	}
	if n <= 0 {
		n = format.FrameSize()
	}
	d := &Device{
		src:    src,
		period: period,
		chunk:  make([]byte, n),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Device) loop() {
	defer close(d.done)
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			if !d.playing.Load() {
				continue
			}
			n, err := io.ReadFull(d.src, d.chunk)
			d.read.Add(uint64(n))
			if err != nil {
				return
			}
		}
	}
}

func (d *Device) Play()  { d.playing.Store(true) }
func (d *Device) Pause() { d.playing.Store(false) }

func (d *Device) SetVolume(level float64) {
	d.volume.Store(uint64(level * 10000))
}

func (d *Device) Volume() float64 {
	return float64(d.volume.Load()) / 10000
}

// Buffered is zero: a chunk is consumed the moment it is read.
func (d *Device) Buffered() int { return 0 }

// BytesRead is the amount of PCM pulled from the source.
func (d *Device) BytesRead() uint64 { return d.read.Load() }

func (d *Device) Playing() bool { return d.playing.Load() }

// Close stops the pull goroutine and waits for an in-flight read.
func (d *Device) Close() error {
	d.once.Do(func() { close(d.stop) })
	<-d.done
	return nil
}
