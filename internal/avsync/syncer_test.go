package avsync

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/logger"
)

type fakeClock struct{ t float64 }

func (c *fakeClock) Now() float64   { return c.t }
func (c *fakeClock) Clock() float64 { return c.t }

func syncConfig() config.SyncConfig {
	return config.Default().Sync
}

// simulate advances the audio clock by each returned delay and the video clock by one frame per tick.
func simulate(t *testing.T, s *Syncer, video, audio *fakeClock, frame float64, ticks int) []float64 {
	t.Helper()
	drifts := []float64{video.t - audio.t}
	for i := 0; i < ticks; i++ {
		d := s.NextDelay()
		require.GreaterOrEqual(t, d, syncConfig().MinDelay)
		audio.t += d.Seconds()
		video.t += frame
		drifts = append(drifts, video.t-audio.t)
	}
	return drifts
}

func TestPositiveDriftDecaysEachTick(t *testing.T) {
	video := &fakeClock{t: 0.5}
	audio := &fakeClock{t: 0}
	s := New(syncConfig(), video, audio, logger.NewNullLogger())

	drifts := simulate(t, s, video, audio, 0.04, 3)
	for i := 1; i < len(drifts); i++ {
		assert.Less(t, math.Abs(drifts[i]), math.Abs(drifts[i-1]), "tick %d", i)
	}
	assert.Equal(t, ModeAudioMaster, s.Mode())
	assert.Equal(t, uint64(3), s.Stats().Corrections)
}

func TestNegativeDriftDecaysEachTick(t *testing.T) {
	video := &fakeClock{t: 0}
	audio := &fakeClock{t: 0.5}
	s := New(syncConfig(), video, audio, logger.NewNullLogger())

	drifts := simulate(t, s, video, audio, 0.04, 3)
	for i := 1; i < len(drifts); i++ {
		assert.Less(t, math.Abs(drifts[i]), math.Abs(drifts[i-1]), "tick %d", i)
	}
}

func TestDriftConverges(t *testing.T) {
	video := &fakeClock{t: 2}
	audio := &fakeClock{t: 0}
	s := New(syncConfig(), video, audio, logger.NewNullLogger())

	drifts := simulate(t, s, video, audio, 0.04, 200)
	assert.Less(t, math.Abs(drifts[len(drifts)-1]), syncConfig().ThresholdMax.Seconds())
}

func TestCorrectionStepIsBounded(t *testing.T) {
	video := &fakeClock{t: 5}
	audio := &fakeClock{t: 0}
	cfg := syncConfig()
	s := New(cfg, video, audio, logger.NewNullLogger())

	d := s.NextDelay()
	assert.Equal(t, cfg.DefaultFrameDuration+cfg.MaxCorrectionStep, d)
}

func TestDelayNeverBelowMinimum(t *testing.T) {
	video := &fakeClock{t: 0}
	audio := &fakeClock{t: 3}
	cfg := syncConfig()
	s := New(cfg, video, audio, logger.NewNullLogger())

	for i := 0; i < 10; i++ {
		assert.GreaterOrEqual(t, s.NextDelay(), cfg.MinDelay)
	}
}

func TestSmallDriftIsNotCorrected(t *testing.T) {
	video := &fakeClock{t: 1.02}
	audio := &fakeClock{t: 1}
	cfg := syncConfig()
	s := New(cfg, video, audio, logger.NewNullLogger())

	assert.Equal(t, cfg.DefaultFrameDuration, s.NextDelay())
	assert.Zero(t, s.Stats().Corrections)
}

func TestHugeDriftIsNotCorrected(t *testing.T) {
	video := &fakeClock{t: 30}
	audio := &fakeClock{t: 1}
	cfg := syncConfig()
	s := New(cfg, video, audio, logger.NewNullLogger())

	assert.Equal(t, cfg.DefaultFrameDuration, s.NextDelay())
	assert.Equal(t, uint64(1), s.Stats().Unsynced)
}

func TestFreeRunFollowsFrameSpacing(t *testing.T) {
	video := &fakeClock{}
	s := New(syncConfig(), video, nil, logger.NewNullLogger())
	assert.Equal(t, ModeFreeRun, s.Mode())

	assert.Equal(t, 40*time.Millisecond, s.NextDelay())
	for i := 0; i < 5; i++ {
		video.t += 1.0 / 30
		d := s.NextDelay()
		assert.InDelta(t, float64(time.Second/30), float64(d), float64(time.Microsecond))
	}

	// A discontinuity keeps the previous spacing.
	video.t += 5
	assert.InDelta(t, float64(time.Second/30), float64(s.NextDelay()), float64(time.Microsecond))
}

func TestSetMasterSwitchesMode(t *testing.T) {
	s := New(syncConfig(), &fakeClock{}, nil, nil)
	s.SetMaster(&fakeClock{})
	assert.Equal(t, ModeAudioMaster, s.Mode())
	s.SetMaster(nil)
	assert.Equal(t, ModeFreeRun, s.Mode())
}

func TestResetRestoresDefaults(t *testing.T) {
	video := &fakeClock{t: 0.3}
	audio := &fakeClock{}
	cfg := syncConfig()
	s := New(cfg, video, audio, logger.NewNullLogger())

	s.NextDelay()
	video.t += 0.02
	s.NextDelay()
	require.NotEqual(t, cfg.DefaultFrameDuration, s.Stats().FrameDuration)

	s.Reset()
	st := s.Stats()
	assert.Equal(t, cfg.DefaultFrameDuration, st.FrameDuration)
	assert.Zero(t, st.MeanDrift)
	assert.Zero(t, st.Drift)
}
