package sdl

import (
	"github.com/veandco/go-sdl2/sdl"

	"github.com/zsiec/cadence/internal/control"
)

// keyCommand maps a pressed key to a player command.
func keyCommand(key sdl.Keycode, seekStep, volumeStep float64) (control.Command, bool) {
	switch key {
	case sdl.K_SPACE:
		return control.TogglePause(), true
	case sdl.K_LEFT:
		return control.Seek(-seekStep), true
	case sdl.K_RIGHT:
		return control.Seek(seekStep), true
	case sdl.K_UP:
		return control.VolumeStep(volumeStep), true
	case sdl.K_DOWN:
		return control.VolumeStep(-volumeStep), true
	case sdl.K_RETURN, sdl.K_f:
		return control.ToggleFullscreen(), true
	case sdl.K_r:
		return control.Restart(), true
	case sdl.K_ESCAPE, sdl.K_q:
		return control.Quit(), true
	}
	return control.Command{}, false
}
