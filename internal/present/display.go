package present

import (
	"fmt"

	"github.com/zsiec/cadence/internal/control"
	"github.com/zsiec/cadence/internal/media"
)

// Display is a surface that shows one frame at a time.
type Display interface {
	// UpdateFrame uploads the frame to be shown by the next Present.
	UpdateFrame(frame *media.VideoFrame) error
	// Present shows the last uploaded frame with the overlay on top.
	Present(overlay Overlay) error
	SetFullscreen(on bool) error
	Close() error
}

// EventSource is implemented by displays that also deliver user input.
// PollEvents must be called from the goroutine that owns the display.
type EventSource interface {
	PollEvents(emit func(control.Command))
}

// Overlay is the text drawn over a frame.
type Overlay struct {
	Enabled  bool
	Clock    float64
	Subtitle string
}

// Label is the clock line of the overlay.
func (o Overlay) Label() string {
	return fmt.Sprintf("Time: %.2f s", o.Clock)
}

// Rect is a destination rectangle in window pixels.
type Rect struct {
	X, Y, W, H int
}

// Letterbox fits a srcW x srcH picture into a dstW x dstH area, preserving its
// aspect ratio and centering it.
func Letterbox(srcW, srcH, dstW, dstH int) Rect {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return Rect{W: dstW, H: dstH}
	}
	w, h := dstW, dstW*srcH/srcW
	if h > dstH {
		w, h = dstH*srcW/srcH, dstH
	}
	return Rect{X: (dstW - w) / 2, Y: (dstH - h) / 2, W: w, H: h}
}
