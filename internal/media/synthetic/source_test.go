package synthetic

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/internal/media"
)

func unitTime(c *Container, u media.Unit) float64 {
	for _, s := range c.Streams() {
		if s.Index == u.StreamIndex {
			return s.TimeBase.Seconds(media.DecodeTime(u.DTS, u.PTS).Value)
		}
	}
	return -1
}

func readAll(t *testing.T, c *Container) []media.Unit {
	t.Helper()
	var out []media.Unit
	for {
		u, err := c.ReadUnit()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, u)
	}
}

func TestParse(t *testing.T) {
	opts, err := Parse("synthetic://10s")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, opts.Duration)
	assert.True(t, opts.Audio)
	assert.True(t, opts.Subtitles)

	opts, err = Parse("synthetic://1m30s?audio=0&subs=false&fps=30&size=320x180")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, opts.Duration)
	assert.False(t, opts.Audio)
	assert.False(t, opts.Subtitles)
	assert.Equal(t, media.NewRational(30, 1), opts.FrameRate)
	assert.Equal(t, 320, opts.Width)

	for _, bad := range []string{"file:///x.mkv", "synthetic://forever", "synthetic://5s?fps=0", "synthetic://5s?size=33x10"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
	assert.True(t, IsURL("synthetic://2s"))
	assert.False(t, IsURL("/tmp/movie.mp4"))
}

func TestReadUnitOrderAndCounts(t *testing.T) {
	c := New(DefaultOptions(10 * time.Second))
	units := readAll(t, c)

	counts := map[media.Kind]int{}
	last := -1.0
	for _, u := range units {
		counts[u.Kind]++
		ts := unitTime(c, u)
		assert.GreaterOrEqual(t, ts, last)
		last = ts
	}
	assert.Equal(t, 250, counts[media.KindVideo])
	assert.Equal(t, 469, counts[media.KindAudio]) // ceil(10*48000/1024)
	assert.Equal(t, 5, counts[media.KindSubtitle])
	assert.True(t, units[0].Keyframe)
}

func TestStreamsFollowOptions(t *testing.T) {
	opts := DefaultOptions(time.Second)
	opts.Audio = false
	opts.Subtitles = false
	c := New(opts)

	require.Len(t, c.Streams(), 1)
	_, ok := media.FindStream(c.Streams(), media.KindAudio)
	assert.False(t, ok)
}

func TestSeekLandsOnKeyframes(t *testing.T) {
	c := New(DefaultOptions(10 * time.Second))

	tests := []struct {
		name   string
		target time.Duration
		dir    media.SeekDirection
		want   float64
	}{
		// 12 frame GOP at 25 fps: keyframes every 0.48s.
		{"backward", 3 * time.Second, media.SeekBackward, 2.88},
		{"forward", 3 * time.Second, media.SeekForward, 3.36},
		{"exact", 960 * time.Millisecond, media.SeekForward, 0.96},
		{"negative clamps to start", -5 * time.Second, media.SeekBackward, 0},
		{"past end clamps to last keyframe", time.Minute, media.SeekForward, 9.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, c.Seek(tt.target, tt.dir))
			u, err := c.ReadUnit()
			require.NoError(t, err)
			assert.Equal(t, media.KindVideo, u.Kind)
			assert.True(t, u.Keyframe)
			assert.InDelta(t, tt.want, unitTime(c, u), 1e-9)

			// Audio resumes within one packet after the keyframe.
			for {
				a, err := c.ReadUnit()
				require.NoError(t, err)
				if a.Kind == media.KindAudio {
					assert.InDelta(t, tt.want, unitTime(c, a), 1024.0/48000)
					break
				}
			}
		})
	}
}

func TestSeekError(t *testing.T) {
	opts := DefaultOptions(time.Second)
	opts.SeekErr = errors.New("not seekable")
	c := New(opts)
	assert.EqualError(t, c.Seek(0, media.SeekBackward), "not seekable")
	assert.Zero(t, c.Seeks())
}

func TestDecoders(t *testing.T) {
	c := New(DefaultOptions(time.Second))
	streams := c.Streams()

	video, _ := media.FindStream(streams, media.KindVideo)
	audio, _ := media.FindStream(streams, media.KindAudio)
	subs, _ := media.FindStream(streams, media.KindSubtitle)

	vd, err := c.OpenDecoder(video, media.DecoderOptions{})
	require.NoError(t, err)
	ad, err := c.OpenDecoder(audio, media.DecoderOptions{AudioFormat: media.S16(44100, 1)})
	require.NoError(t, err)
	sd, err := c.OpenDecoder(subs, media.DecoderOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, c.OpenDecoders())

	var gotVideo, gotAudio, gotSub bool
	for _, u := range readAll(t, c) {
		switch u.Kind {
		case media.KindVideo:
			out, err := vd.Decode(u)
			require.NoError(t, err)
			require.Len(t, out, 1)
			f := out[0].Video
			assert.Equal(t, 64*36, len(f.Planes[0]))
			assert.Equal(t, 32*18, len(f.Planes[1]))
			assert.InDelta(t, 0.04, out[0].Duration, 1e-9)
			gotVideo = true
		case media.KindAudio:
			out, err := ad.Decode(u)
			require.NoError(t, err)
			require.Len(t, out, 1)
			// 1024 samples at 48kHz resampled to mono 44.1kHz S16.
			assert.Equal(t, 941*2, len(out[0].Audio.Data))
			gotAudio = true
		case media.KindSubtitle:
			out, err := sd.Decode(u)
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, "Cue 1", out[0].Subtitle.Text)
			assert.Equal(t, 1.0, out[0].Subtitle.EndOffset)
			gotSub = true
		}
	}
	assert.True(t, gotVideo && gotAudio && gotSub)

	require.NoError(t, vd.Close())
	require.NoError(t, vd.Close())
	assert.Equal(t, 2, c.OpenDecoders())

	_, err = vd.Decode(media.Unit{Kind: media.KindVideo, Data: []byte{1}})
	assert.Error(t, err)
}

func TestOpener(t *testing.T) {
	c, err := Opener().Open("synthetic://2s?subs=0")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, c.Duration())
	assert.Len(t, c.Streams(), 2)

	_, err = Opener().Open("/dev/null")
	assert.Error(t, err)
}
