package audio

import (
	"io"

	"github.com/zsiec/cadence/internal/media"
)

// Device is an output that pulls PCM from a reader on its own goroutine.
type Device interface {
	Play()
	Pause()
	SetVolume(level float64)
	// Buffered is the number of bytes read from the source but not yet audible.
	Buffered() int
	Close() error
}

// DeviceOpener opens an output device for the given format reading from src.
type DeviceOpener interface {
	Open(format media.AudioFormat, src io.Reader) (Device, error)
}

type DeviceOpenerFunc func(format media.AudioFormat, src io.Reader) (Device, error)

func (f DeviceOpenerFunc) Open(format media.AudioFormat, src io.Reader) (Device, error) {
	return f(format, src)
}
