package player

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/internal/audio"
	"github.com/zsiec/cadence/internal/avsync"
	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/control"
	apperrors "github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/history"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/media/synthetic"
	"github.com/zsiec/cadence/internal/output/headless"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Audio.Backend = "headless"
	cfg.Display.Backend = "headless"
	cfg.Playback.ThrottleInterval = 10 * time.Millisecond
	cfg.Playback.StoppedPoll = 10 * time.Millisecond
	cfg.Playback.StoppedTick = 10 * time.Millisecond
	return cfg
}

type fixture struct {
	player  *Player
	display *headless.Display
	done    chan error
	cancel  context.CancelFunc
}

type fixtureOption func(*Options)

func startPlayer(t *testing.T, cfg *config.Config, url string, opts ...fixtureOption) *fixture {
	t.Helper()

	display := headless.NewDisplay()
	o := Options{
		Config:  cfg,
		Opener:  synthetic.Opener(),
		Display: display,
		Audio:   headless.NewOpener(cfg.Audio.Period),
		Logger:  logger.Test(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	p, err := New(o)
	require.NoError(t, err)
	require.NoError(t, p.Open(url))

	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{player: p, display: display, done: make(chan error, 1), cancel: cancel}
	go func() { f.done <- p.Play(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-f.done:
		case <-time.After(5 * time.Second):
			t.Error("player did not stop")
		}
	})
	return f
}

func (f *fixture) wait(t *testing.T, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-f.done:
		// Let the cleanup see a finished player.
		f.done <- err
		return err
	case <-time.After(timeout):
		t.Fatal("player did not finish")
		return nil
	}
}

func (f *fixture) waitPosition(t *testing.T, pos float64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.player.Status().Position >= pos
	}, 10*time.Second, 10*time.Millisecond)
}

// fakeHistory records calls in memory.
type fakeHistory struct {
	mu      sync.Mutex
	entries map[string]history.Entry
	saves   int
	deletes int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{entries: make(map[string]history.Entry)}
}

func (h *fakeHistory) Save(_ context.Context, url string, position, duration float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saves++
	h.entries[url] = history.Entry{URL: url, Position: position, Duration: duration}
	return nil
}

func (h *fakeHistory) Load(_ context.Context, url string) (history.Entry, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[url]
	return e, ok, nil
}

func (h *fakeHistory) Delete(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deletes++
	delete(h.entries, url)
	return nil
}

func (h *fakeHistory) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.saves, h.deletes
}

func TestSeekBackPastStartFlushesPipeline(t *testing.T) {
	f := startPlayer(t, testConfig(), "synthetic://10s")
	f.waitPosition(t, 2.5)

	require.NoError(t, f.player.Submit(control.Seek(-10)))
	require.Eventually(t, func() bool {
		_, ok := f.player.LastSeek()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	report, _ := f.player.LastSeek()
	assert.Equal(t, 0.0, report.Target)
	assert.Equal(t, "backward", report.Direction)
	assert.Equal(t, 0.0, report.VideoClock)
	require.NotEmpty(t, report.QueueLens)
	for stream, n := range report.QueueLens {
		assert.Zerof(t, n, "queue %s not flushed", stream)
	}

	// Playback continues from the start.
	before := f.display.Presented()
	require.Eventually(t, func() bool {
		frame, _ := f.display.Last()
		return f.display.Presented() > before && frame != nil && frame.PTS < 1.0
	}, 200*time.Millisecond, 2*time.Millisecond)

	st := f.player.Status()
	assert.Equal(t, StatePlaying, st.State)
	assert.Equal(t, string(avsync.ModeAudioMaster), st.SyncMode)
	assert.Equal(t, uint64(1), st.Dispatcher.Seeks)
}

// gatedContainer holds one armed video decode until released.
type gatedContainer struct {
	media.Container
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedOpener(c *gatedContainer) media.Opener {
	base := synthetic.Opener()
	return media.OpenerFunc(func(url string) (media.Container, error) {
		inner, err := base.Open(url)
		if err != nil {
			return nil, err
		}
		c.Container = inner
		return c, nil
	})
}

func (c *gatedContainer) OpenDecoder(info media.StreamInfo, opts media.DecoderOptions) (media.Decoder, error) {
	dec, err := c.Container.OpenDecoder(info, opts)
	if err != nil || info.Kind != media.KindVideo {
		return dec, err
	}
	return &gatedDecoder{Decoder: dec, c: c}, nil
}

type gatedDecoder struct {
	media.Decoder
	c *gatedContainer
}

func (d *gatedDecoder) Decode(u media.Unit) ([]media.DecodedUnit, error) {
	if d.c.armed.CompareAndSwap(true, false) {
		close(d.c.entered)
		<-d.c.release
	}
	return d.Decoder.Decode(u)
}

func TestSeekDuringInflightDecodeResetsVideoClock(t *testing.T) {
	gated := &gatedContainer{entered: make(chan struct{}), release: make(chan struct{})}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { close(gated.release) }) }
	f := startPlayer(t, testConfig(), "synthetic://10s", func(o *Options) { o.Opener = newGatedOpener(gated) })
	f.waitPosition(t, 2.5)
	// Runs before the player's cleanup so a held decode cannot block shutdown.
	t.Cleanup(release)

	gated.armed.Store(true)
	select {
	case <-gated.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("video decode was not held")
	}
	require.NoError(t, f.player.Submit(control.Seek(-10)))

	// The seek waits on the held decode; let it finish with its pre-seek frame.
	time.Sleep(50 * time.Millisecond)
	release()

	require.Eventually(t, func() bool {
		_, ok := f.player.LastSeek()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	report, _ := f.player.LastSeek()
	assert.Equal(t, 0.0, report.Target)
	assert.Equal(t, 0.0, report.VideoClock)
	assert.Less(t, f.player.Status().Position, 2.0)
}

func TestSeekForwardIsClampedBeforeEnd(t *testing.T) {
	cfg := testConfig()
	f := startPlayer(t, cfg, "synthetic://4s")
	f.waitPosition(t, 0.2)

	require.NoError(t, f.player.Submit(control.Seek(60)))
	require.Eventually(t, func() bool {
		_, ok := f.player.LastSeek()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	report, _ := f.player.LastSeek()
	assert.InDelta(t, (4*time.Second - cfg.Playback.EndGuard).Seconds(), report.Target, 1e-9)
	assert.Equal(t, "forward", report.Direction)

	// The remaining second plays out and the session ends normally.
	assert.NoError(t, f.wait(t, 5*time.Second))
}

func TestEndOfStreamEndsPlayback(t *testing.T) {
	hist := newFakeHistory()
	hist.entries["synthetic://1s"] = history.Entry{URL: "synthetic://1s", Position: 0.5}

	f := startPlayer(t, testConfig(), "synthetic://1s", func(o *Options) { o.History = hist })
	require.NoError(t, f.wait(t, 5*time.Second))

	assert.Greater(t, f.display.Presented(), 10)
	saves, deletes := hist.counts()
	assert.Zero(t, saves)
	assert.Equal(t, 1, deletes)
	assert.Equal(t, StateIdle, f.player.Status().State)
}

func TestQuitSavesPosition(t *testing.T) {
	hist := newFakeHistory()
	f := startPlayer(t, testConfig(), "synthetic://10s", func(o *Options) { o.History = hist })
	f.waitPosition(t, 0.5)

	require.NoError(t, f.player.Submit(control.Quit()))
	require.NoError(t, f.wait(t, 2*time.Second))

	e, ok, _ := hist.Load(context.Background(), "synthetic://10s")
	require.True(t, ok)
	assert.GreaterOrEqual(t, e.Position, 0.5)
	assert.Equal(t, 10.0, e.Duration)
}

func TestResumeSeeksToSavedPosition(t *testing.T) {
	hist := newFakeHistory()
	hist.entries["synthetic://10s"] = history.Entry{URL: "synthetic://10s", Position: 5}

	cfg := testConfig()
	cfg.Playback.Resume = true
	f := startPlayer(t, cfg, "synthetic://10s", func(o *Options) { o.History = hist })

	require.Eventually(t, func() bool {
		_, ok := f.player.LastSeek()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	report, _ := f.player.LastSeek()
	assert.Equal(t, 5.0, report.Target)
	assert.Equal(t, "backward", report.Direction)

	// Backward seeks land on the keyframe at or before the target.
	require.Eventually(t, func() bool {
		frame, _ := f.display.Last()
		return frame != nil && frame.PTS >= 4.5
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPauseStopsPresentation(t *testing.T) {
	f := startPlayer(t, testConfig(), "synthetic://10s")
	f.waitPosition(t, 0.3)

	require.NoError(t, f.player.Submit(control.TogglePause()))
	require.Eventually(t, func() bool { return f.player.Status().State == StatePaused }, time.Second, 5*time.Millisecond)

	frozen := f.display.Presented()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, frozen, f.display.Presented())

	require.NoError(t, f.player.Submit(control.TogglePause()))
	require.Eventually(t, func() bool { return f.display.Presented() > frozen }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatePlaying, f.player.Status().State)
}

func TestVolumeAndFullscreenCommands(t *testing.T) {
	f := startPlayer(t, testConfig(), "synthetic://10s")

	for i := 0; i < 20; i++ {
		require.NoError(t, f.player.Submit(control.VolumeStep(0.05)))
	}
	require.NoError(t, f.player.Submit(control.ToggleFullscreen()))

	require.Eventually(t, func() bool {
		return f.player.Status().Volume == 1.0 && f.display.Fullscreen()
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.player.Submit(control.VolumeSet(-3)))
	require.Eventually(t, func() bool { return f.player.Status().Volume == 0 }, time.Second, 5*time.Millisecond)
}

func TestRestartKeepsVolumeAndFullscreen(t *testing.T) {
	f := startPlayer(t, testConfig(), "synthetic://10s")
	f.waitPosition(t, 0.5)
	first := f.player.Status().SessionID

	require.NoError(t, f.player.Submit(control.VolumeSet(0.8)))
	require.NoError(t, f.player.Submit(control.ToggleFullscreen()))
	require.NoError(t, f.player.Submit(control.Restart()))

	require.Eventually(t, func() bool {
		st := f.player.Status()
		return st.Restarts == 1 && st.SessionID != first && st.State == StatePlaying
	}, 2*time.Second, 5*time.Millisecond)

	st := f.player.Status()
	assert.Equal(t, 0.8, st.Volume)
	assert.True(t, st.Fullscreen)
	assert.True(t, f.display.Fullscreen())
	assert.Less(t, st.Position, 0.5)
}

func TestSeekRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Playback.SeekRate = 0.001
	cfg.Playback.SeekBurst = 2
	f := startPlayer(t, cfg, "synthetic://10s")

	for i := 0; i < 5; i++ {
		require.NoError(t, f.player.Submit(control.Seek(1)))
	}
	require.Eventually(t, func() bool { return f.player.Status().Dispatcher.Seeks == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(2), f.player.Status().Dispatcher.Seeks)
}

func TestSeekFailureIsFatal(t *testing.T) {
	opener := media.OpenerFunc(func(string) (media.Container, error) {
		opts := synthetic.DefaultOptions(10 * time.Second)
		opts.SeekErr = errors.New("unseekable")
		return synthetic.New(opts), nil
	})
	f := startPlayer(t, testConfig(), "synthetic://10s", func(o *Options) { o.Opener = opener })
	f.waitPosition(t, 0.2)

	require.NoError(t, f.player.Submit(control.Seek(-1)))
	err := f.wait(t, 2*time.Second)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeSeek))
	assert.Equal(t, 1, apperrors.ExitCode(err))
}

type failingAudio struct{}

func (failingAudio) Open(media.AudioFormat, io.Reader) (audio.Device, error) {
	return nil, errors.New("no sound card")
}

func TestAudioDeviceFailureFallsBackToFreeRun(t *testing.T) {
	f := startPlayer(t, testConfig(), "synthetic://10s", func(o *Options) { o.Audio = failingAudio{} })
	f.waitPosition(t, 0.5)

	st := f.player.Status()
	assert.Equal(t, string(avsync.ModeFreeRun), st.SyncMode)
	assert.NotContains(t, st.Queues, "audio")
	assert.Nil(t, st.Audio)
	assert.Greater(t, f.display.Presented(), 0)
}

func TestSubtitlesReachOverlay(t *testing.T) {
	f := startPlayer(t, testConfig(), "synthetic://10s")

	require.Eventually(t, func() bool {
		_, ov := f.display.Last()
		return ov.Subtitle == "Cue 1"
	}, 5*time.Second, 10*time.Millisecond)
}

// videoless hides the video stream of a synthetic container.
type videoless struct {
	*synthetic.Container
}

func (v videoless) Streams() []media.StreamInfo {
	var out []media.StreamInfo
	for _, s := range v.Container.Streams() {
		if s.Kind != media.KindVideo {
			out = append(out, s)
		}
	}
	return out
}

func TestOpenErrors(t *testing.T) {
	p, err := New(Options{Config: testConfig(), Opener: synthetic.Opener(), Display: headless.NewDisplay()})
	require.NoError(t, err)

	err = p.Open("synthetic://nonsense")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStreamOpen))

	p, err = New(Options{
		Config: testConfig(),
		Opener: media.OpenerFunc(func(string) (media.Container, error) {
			return videoless{synthetic.New(synthetic.DefaultOptions(time.Second))}, nil
		}),
		Display: headless.NewDisplay(),
	})
	require.NoError(t, err)
	err = p.Open("synthetic://1s")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNoVideo))

	assert.ErrorIs(t, p.Play(context.Background()), ErrNotOpen)

	_, err = New(Options{Config: testConfig()})
	assert.Error(t, err)
}

func TestSubmitNeverBlocks(t *testing.T) {
	p, err := New(Options{Config: testConfig(), Opener: synthetic.Opener(), Display: headless.NewDisplay()})
	require.NoError(t, err)

	var full int
	for i := 0; i < commandBuffer+5; i++ {
		if errors.Is(p.Submit(control.Pause()), ErrCommandsFull) {
			full++
		}
	}
	assert.Equal(t, 5, full)
	assert.Equal(t, StateIdle, p.Status().State)
}
