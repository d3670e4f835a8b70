// Package sdl shows video in an SDL2 window and turns window input into
// player commands.
package sdl

import (
	"errors"
	"fmt"
	"sync"

	"github.com/veandco/go-sdl2/sdl"
	"github.com/veandco/go-sdl2/ttf"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/control"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/present"
)

var ErrClosed = errors.New("sdl: display closed")

const overlayMargin = 16

var (
	textColor   = sdl.Color{R: 255, G: 255, B: 255, A: 255}
	shadowColor = sdl.Color{R: 0, G: 0, B: 0, A: 200}
)

// Options configure the window and its key bindings.
type Options struct {
	Title      string
	Width      int
	Height     int
	FontPath   string
	FontSize   int
	SeekStep   float64 // seconds per arrow key
	VolumeStep float64
	Logger     logger.Logger
}

// OptionsFromConfig builds Options from the display and playback sections.
func OptionsFromConfig(cfg *config.Config, log logger.Logger) Options {
	return Options{
		Title:      cfg.Display.Title,
		Width:      cfg.Display.Width,
		Height:     cfg.Display.Height,
		FontPath:   cfg.Display.FontPath,
		FontSize:   cfg.Display.FontSize,
		SeekStep:   cfg.Playback.SeekStep.Seconds(),
		VolumeStep: cfg.Playback.VolumeStep,
		Logger:     log,
	}
}

// Display is an SDL window with a streaming I420 texture. Every method must
// be called from the goroutine that created it, which must be locked to its
// OS thread.
type Display struct {
	opts     Options
	window   *sdl.Window
	renderer *sdl.Renderer
	texture  *sdl.Texture
	font     *ttf.Font
	log      logger.Logger

	frameW, frameH int
	hasFrame       bool

	closeOnce sync.Once
	closed    bool
}

// New opens the window. Without a font the overlay is not drawn.
func New(opts Options) (*Display, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	log := logger.WithComponent(opts.Logger, "display")

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return nil, fmt.Errorf("sdl: init: %w", err)
	}
	window, err := sdl.CreateWindow(opts.Title, sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(opts.Width), int32(opts.Height), sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("sdl: window: %w", err)
	}
	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		_ = window.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("sdl: renderer: %w", err)
	}

	d := &Display{opts: opts, window: window, renderer: renderer, log: log}
	if opts.FontPath != "" {
		if err := d.openFont(); err != nil {
			log.WithError(err).Warn("Overlay font unavailable, overlay disabled")
		}
	}
	return d, nil
}

func (d *Display) openFont() error {
	if err := ttf.Init(); err != nil {
		return fmt.Errorf("ttf: init: %w", err)
	}
	size := d.opts.FontSize
	if size <= 0 {
		size = 24
	}
	font, err := ttf.OpenFont(d.opts.FontPath, size)
	if err != nil {
		ttf.Quit()
		return fmt.Errorf("ttf: open %s: %w", d.opts.FontPath, err)
	}
	d.font = font
	return nil
}

// UpdateFrame uploads the planes, recreating the texture when the picture
// size changes.
func (d *Display) UpdateFrame(frame *media.VideoFrame) error {
	if d.closed {
		return ErrClosed
	}
	if frame == nil || frame.Planes[0] == nil {
		return nil
	}
	if d.texture == nil || frame.Width != d.frameW || frame.Height != d.frameH {
		if d.texture != nil {
			_ = d.texture.Destroy()
		}
		tex, err := d.renderer.CreateTexture(uint32(sdl.PIXELFORMAT_IYUV), sdl.TEXTUREACCESS_STREAMING,
			int32(frame.Width), int32(frame.Height))
		if err != nil {
			d.texture = nil
			return fmt.Errorf("sdl: texture %dx%d: %w", frame.Width, frame.Height, err)
		}
		d.texture = tex
		d.frameW, d.frameH = frame.Width, frame.Height
	}

	err := d.texture.UpdateYUV(nil,
		frame.Planes[0], frame.Pitches[0],
		frame.Planes[1], frame.Pitches[1],
		frame.Planes[2], frame.Pitches[2])
	if err != nil {
		return fmt.Errorf("sdl: upload frame: %w", err)
	}
	d.hasFrame = true
	return nil
}

// Present draws the letterboxed frame and the overlay.
func (d *Display) Present(overlay present.Overlay) error {
	if d.closed {
		return ErrClosed
	}
	if err := d.renderer.SetDrawColor(0, 0, 0, 255); err != nil {
		return fmt.Errorf("sdl: draw color: %w", err)
	}
	if err := d.renderer.Clear(); err != nil {
		return fmt.Errorf("sdl: clear: %w", err)
	}

	outW, outH, err := d.renderer.GetOutputSize()
	if err != nil {
		return fmt.Errorf("sdl: output size: %w", err)
	}
	if d.hasFrame {
		box := present.Letterbox(d.frameW, d.frameH, int(outW), int(outH))
		dst := sdl.Rect{X: int32(box.X), Y: int32(box.Y), W: int32(box.W), H: int32(box.H)}
		if err := d.renderer.Copy(d.texture, nil, &dst); err != nil {
			return fmt.Errorf("sdl: copy frame: %w", err)
		}
	}

	if overlay.Enabled && d.font != nil {
		d.drawText(overlay.Label(), overlayMargin, overlayMargin, false, int(outW))
		if overlay.Subtitle != "" {
			d.drawText(overlay.Subtitle, int(outW)/2, int(outH)-overlayMargin, true, int(outW))
		}
	}

	d.renderer.Present()
	return nil
}

// drawText renders text with a drop shadow. Centered text is anchored at its
// bottom center, other text at its top left.
func (d *Display) drawText(text string, x, y int, centered bool, maxW int) {
	wrap := maxW - 2*overlayMargin
	if wrap <= 0 {
		wrap = maxW
	}
	for _, layer := range []struct {
		color  sdl.Color
		offset int
	}{{shadowColor, 2}, {textColor, 0}} {
		surface, err := d.font.RenderUTF8BlendedWrapped(text, layer.color, wrap)
		if err != nil {
			d.log.WithError(err).Debug("Failed to render overlay text")
			return
		}
		tex, err := d.renderer.CreateTextureFromSurface(surface)
		w, h := surface.W, surface.H
		surface.Free()
		if err != nil {
			d.log.WithError(err).Debug("Failed to upload overlay text")
			return
		}

		dst := sdl.Rect{X: int32(x + layer.offset), Y: int32(y + layer.offset), W: w, H: h}
		if centered {
			dst.X -= w / 2
			dst.Y -= h
		}
		_ = d.renderer.Copy(tex, nil, &dst)
		_ = tex.Destroy()
	}
}

func (d *Display) SetFullscreen(on bool) error {
	if d.closed {
		return ErrClosed
	}
	var flags uint32
	if on {
		flags = sdl.WINDOW_FULLSCREEN_DESKTOP
	}
	if err := d.window.SetFullscreen(flags); err != nil {
		return fmt.Errorf("sdl: fullscreen: %w", err)
	}
	return nil
}

// PollEvents drains pending window events and emits the commands they map to.
func (d *Display) PollEvents(emit func(control.Command)) {
	if d.closed {
		return
	}
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if cmd, ok := d.translate(event); ok {
			emit(cmd)
		}
	}
}

func (d *Display) translate(event sdl.Event) (control.Command, bool) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		return control.Quit(), true
	case *sdl.KeyboardEvent:
		if e.Type != sdl.KEYDOWN {
			return control.Command{}, false
		}
		return keyCommand(e.Keysym.Sym, d.opts.SeekStep, d.opts.VolumeStep)
	case *sdl.MouseButtonEvent:
		if e.Type == sdl.MOUSEBUTTONDOWN {
			return control.TogglePause(), true
		}
	case *sdl.WindowEvent:
		if e.Event == sdl.WINDOWEVENT_MOVED {
			return control.Resume(), true
		}
	}
	return control.Command{}, false
}

// Close destroys the window and shuts SDL down.
func (d *Display) Close() error {
	d.closeOnce.Do(func() {
		d.closed = true
		if d.font != nil {
			d.font.Close()
			ttf.Quit()
		}
		if d.texture != nil {
			_ = d.texture.Destroy()
		}
		_ = d.renderer.Destroy()
		_ = d.window.Destroy()
		sdl.Quit()
	})
	return nil
}

var (
	_ present.Display     = (*Display)(nil)
	_ present.EventSource = (*Display)(nil)
)
