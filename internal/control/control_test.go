package control

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeStepClampsAtTop(t *testing.T) {
	v := NewVolume(0.95)
	var levels []float64
	for i := 0; i < 5; i++ {
		levels = append(levels, v.Step(0.05))
	}
	for _, l := range levels {
		assert.LessOrEqual(t, l, 1.0)
	}
	assert.Equal(t, 1.0, v.Level())
}

func TestVolumeStepClampsAtBottom(t *testing.T) {
	v := NewVolume(0.05)
	for i := 0; i < 5; i++ {
		l := v.Step(-0.05)
		assert.GreaterOrEqual(t, l, 0.0)
	}
	assert.Equal(t, 0.0, v.Level())
}

func TestVolumeSteppingIsExact(t *testing.T) {
	v := NewVolume(0)
	for i := 0; i < 20; i++ {
		v.Step(0.05)
	}
	assert.Equal(t, 1.0, v.Level())
	for i := 0; i < 14; i++ {
		v.Step(-0.05)
	}
	assert.Equal(t, 0.3, v.Level())
}

func TestVolumeSet(t *testing.T) {
	tests := []struct {
		name  string
		level float64
		want  float64
	}{
		{"in range", 0.42, 0.42},
		{"above one", 3, 1},
		{"negative", -0.5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVolume(0.3)
			assert.Equal(t, tt.want, v.Set(tt.level))
			assert.Equal(t, tt.want, v.Level())
		})
	}
}

func TestPlaybackStopResume(t *testing.T) {
	p := NewPlayback()
	assert.False(t, p.Stopped())

	p.Stop()
	assert.True(t, p.Stopped())
	p.Resume()
	assert.False(t, p.Stopped())

	assert.True(t, p.Toggle())
	assert.False(t, p.Toggle())
}

func TestPlaybackQuitOnce(t *testing.T) {
	p := NewPlayback()
	assert.False(t, p.Quitting())
	assert.Nil(t, p.Err())

	var wg sync.WaitGroup
	firsts := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			firsts <- p.Quit(ErrEndOfStream)
		}()
	}
	wg.Wait()
	close(firsts)

	count := 0
	for f := range firsts {
		if f {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.True(t, p.Quitting())
	assert.ErrorIs(t, p.Err(), ErrEndOfStream)
	assert.True(t, p.Graceful())

	select {
	case <-p.Done():
	default:
		t.Fatal("Done not closed after Quit")
	}
}

func TestPlaybackQuitDefaultsReason(t *testing.T) {
	p := NewPlayback()
	require.True(t, p.Quit(nil))
	assert.ErrorIs(t, p.Err(), ErrUserQuit)

	fatal := NewPlayback()
	fatal.Quit(errors.New("seek rejected"))
	assert.False(t, fatal.Graceful())
}

func TestPlaybackSleepWakesOnQuit(t *testing.T) {
	p := NewPlayback()
	assert.True(t, p.Sleep(time.Millisecond))

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Quit(ErrUserQuit)
	}()

	start := time.Now()
	assert.False(t, p.Sleep(10*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "seek", Seek(-10).Op.String())
	assert.Equal(t, "op(99)", Op(99).String())
	assert.Equal(t, -10.0, Seek(-10).Value)
}
