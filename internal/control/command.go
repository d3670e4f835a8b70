package control

import (
	"fmt"
	"math"
	"sync"
)

// Op is a control surface action.
type Op int

const (
	OpTogglePause Op = iota
	OpPause
	OpResume
	OpSeek
	OpVolumeStep
	OpVolumeSet
	OpToggleFullscreen
	OpRestart
	OpQuit
)

var opNames = map[Op]string{
	OpTogglePause:      "toggle_pause",
	OpPause:            "pause",
	OpResume:           "resume",
	OpSeek:             "seek",
	OpVolumeStep:       "volume_step",
	OpVolumeSet:        "volume_set",
	OpToggleFullscreen: "toggle_fullscreen",
	OpRestart:          "restart",
	OpQuit:             "quit",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Command is one control surface event.
type Command struct {
	Op Op
	// Value is the seek offset in seconds, the volume delta, or the volume level.
	Value float64
}

// Convenience constructors used by every control surface.
func TogglePause() Command { return Command{Op: OpTogglePause} }
func Pause() Command { return Command{Op: OpPause} }
func Resume() Command { return Command{Op: OpResume} }
func Seek(seconds float64) Command { return Command{Op: OpSeek, Value: seconds} }
func VolumeStep(delta float64) Command { return Command{Op: OpVolumeStep, Value: delta} }
func VolumeSet(level float64) Command { return Command{Op: OpVolumeSet, Value: level} }
func ToggleFullscreen() Command { return Command{Op: OpToggleFullscreen} }
func Restart() Command { return Command{Op: OpRestart} }
func Quit() Command { return Command{Op: OpQuit} }

// volumeScale keeps volume arithmetic on a fixed grid so repeated steps land exactly on the bounds.
const volumeScale = 10000

// Volume is an output level clamped to [0, 1].
type Volume struct {
	mu    sync.Mutex
	level int64
}

// NewVolume creates a volume at the given level.
func NewVolume(level float64) *Volume {
	v := &Volume{}
	v.Set(level)
	return v
}

// Set moves the level, clamping to [0, 1], and returns the new level.
func (v *Volume) Set(level float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.level = clampLevel(toGrid(level))
	return fromGrid(v.level)
}

// Step changes the level by delta, clamping to [0, 1], and returns the new level.
func (v *Volume) Step(delta float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.level = clampLevel(v.level + toGrid(delta))
	return fromGrid(v.level)
}

// Level returns the current level.
func (v *Volume) Level() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fromGrid(v.level)
}

func toGrid(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	}
	return int64(math.Round(f * volumeScale))
}

func fromGrid(n int64) float64 {
	return float64(n) / volumeScale
}

func clampLevel(n int64) int64 {
	if n < 0 {
		return 0
	}
	if n > volumeScale {
		return volumeScale
	}
	return n
}
