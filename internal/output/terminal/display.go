// Package terminal runs the player from a terminal: a live status panel in
// place of a picture and keyboard control.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/control"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/player"
	"github.com/zsiec/cadence/internal/present"
)

var ErrClosed = errors.New("terminal: display closed")

const commandBuffer = 32

// Options configure the terminal surface.
type Options struct {
	Title      string
	SeekStep   float64
	VolumeStep float64
	// Status feeds the status panel; nil shows only the picture line.
	Status func() player.Status
	Input  io.Reader
	Output io.Writer
	Logger logger.Logger
}

func OptionsFromConfig(cfg *config.Config, log logger.Logger) Options {
	return Options{
		Title:      cfg.Display.Title,
		SeekStep:   cfg.Playback.SeekStep.Seconds(),
		VolumeStep: cfg.Playback.VolumeStep,
		Logger:     log,
	}
}

// screen is what the presentation path last showed.
type screen struct {
	width, height int
	presented     uint64
	overlay       present.Overlay
	fullscreen    bool
}

// Display implements present.Display and present.EventSource. Frames are
// summarized rather than drawn; keys typed in the terminal become commands.
type Display struct {
	opts     Options
	log      logger.Logger
	commands chan control.Command

	mu     sync.Mutex
	screen screen
	closed bool

	program *tea.Program
	done    chan struct{}
	runErr  error
}

func New(opts Options) *Display {
	return &Display{
		opts:     opts,
		log:      logger.WithComponent(opts.Logger, "terminal"),
		commands: make(chan control.Command, commandBuffer),
	}
}

// SetStatus sets the status source. Call before Start.
func (d *Display) SetStatus(status func() player.Status) {
	d.opts.Status = status
}

// Start runs the terminal program on its own goroutine.
func (d *Display) Start() {
	var opts []tea.ProgramOption
	if d.opts.Input != nil {
		opts = append(opts, tea.WithInput(d.opts.Input))
	}
	if d.opts.Output != nil {
		opts = append(opts, tea.WithOutput(d.opts.Output))
	} else {
		opts = append(opts, tea.WithAltScreen())
	}
	d.program = tea.NewProgram(newModel(d), opts...)
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		if _, err := d.program.Run(); err != nil {
			d.runErr = err
			d.log.WithError(err).Error("Terminal program failed")
			d.emit(control.Quit())
		}
	}()
}

func (d *Display) UpdateFrame(frame *media.VideoFrame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if frame != nil {
		d.screen.width, d.screen.height = frame.Width, frame.Height
	}
	return nil
}

func (d *Display) Present(overlay present.Overlay) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.screen.presented++
	d.screen.overlay = overlay
	return nil
}

func (d *Display) SetFullscreen(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.screen.fullscreen = on
	return nil
}

// PollEvents drains the keys typed since the last call.
func (d *Display) PollEvents(emit func(control.Command)) {
	for {
		select {
		case cmd := <-d.commands:
			emit(cmd)
		default:
			return
		}
	}
}

// emit queues a command without blocking the terminal program.
func (d *Display) emit(cmd control.Command) {
	select {
	case d.commands <- cmd:
	default:
		d.log.WithField("op", cmd.Op.String()).Warn("Dropping key command, queue full")
	}
}

func (d *Display) snapshot() screen {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.screen
}

// Close stops the terminal program and restores the terminal.
func (d *Display) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if d.program != nil {
		d.program.Quit()
		<-d.done
	}
	if d.runErr != nil {
		return fmt.Errorf("terminal: %w", d.runErr)
	}
	return nil
}

var (
	_ present.Display     = (*Display)(nil)
	_ present.EventSource = (*Display)(nil)
)
