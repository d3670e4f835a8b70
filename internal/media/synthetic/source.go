// Package synthetic is a deterministic in-memory container with a video, an
// audio and a subtitle stream, addressed as synthetic://<duration>.
package synthetic

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/cadence/internal/media"
)

const Scheme = "synthetic"

const (
	videoIndex    = 0
	audioIndex    = 1
	subtitleIndex = 2
)

type Options struct {
	Duration  time.Duration
	FrameRate media.Rational
	Width     int
	Height    int
	// GOP is the keyframe interval in frames.
	GOP int

	Audio         bool
	SampleRate    int
	Channels      int
	PacketSamples int
	ToneHz        float64

	Subtitles bool
	// Cues start at CueOffset and repeat every CueInterval for CueLength.
	CueOffset   time.Duration
	CueInterval time.Duration
	CueLength   time.Duration

	// SeekErr, when set, makes every Seek fail.
	SeekErr error
}

func DefaultOptions(d time.Duration) Options {
	return Options{
		Duration:      d,
		FrameRate:     media.FrameRate25,
		Width:         64,
		Height:        36,
		GOP:           12,
		Audio:         true,
		SampleRate:    48000,
		Channels:      2,
		PacketSamples: 1024,
		ToneHz:        440,
		Subtitles:     true,
		CueOffset:     500 * time.Millisecond,
		CueInterval:   2 * time.Second,
		CueLength:     time.Second,
	}
}

// Parse reads synthetic://<duration>[?audio=0&subs=0&fps=30&size=WxH].
func Parse(rawURL string) (Options, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Options{}, err
	}
	if u.Scheme != Scheme {
		return Options{}, fmt.Errorf("synthetic: not a %s URL: %q", Scheme, rawURL)
	}
	d, err := time.ParseDuration(u.Host)
	if err != nil || d <= 0 {
		return Options{}, fmt.Errorf("synthetic: invalid duration %q", u.Host)
	}
	opts := DefaultOptions(d)

	q := u.Query()
	if v := q.Get("audio"); v != "" {
		opts.Audio = v != "0" && v != "false"
	}
	if v := q.Get("subs"); v != "" {
		opts.Subtitles = v != "0" && v != "false"
	}
	if v := q.Get("fps"); v != "" {
		fps, err := strconv.Atoi(v)
		if err != nil || fps <= 0 || fps > 240 {
			return Options{}, fmt.Errorf("synthetic: invalid fps %q", v)
		}
		opts.FrameRate = media.NewRational(fps, 1)
	}
	if v := q.Get("size"); v != "" {
		w, h, ok := strings.Cut(v, "x")
		width, errW := strconv.Atoi(w)
		height, errH := strconv.Atoi(h)
		if !ok || errW != nil || errH != nil || width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
			return Options{}, fmt.Errorf("synthetic: invalid size %q", v)
		}
		opts.Width, opts.Height = width, height
	}
	return opts, nil
}

// IsURL reports whether rawURL addresses the synthetic source.
func IsURL(rawURL string) bool {
	return strings.HasPrefix(rawURL, Scheme+"://")
}

// Opener opens synthetic:// URLs.
func Opener() media.Opener {
	return media.OpenerFunc(func(rawURL string) (media.Container, error) {
		opts, err := Parse(rawURL)
		if err != nil {
			return nil, err
		}
		return New(opts), nil
	})
}

// Container generates units on demand in timestamp order.
type Container struct {
	opts    Options
	streams []media.StreamInfo

	mu     sync.Mutex
	frame  int64
	packet int64
	cue    int64

	frames  int64
	packets int64
	cues    int64

	seeks        atomic.Int32
	openDecoders atomic.Int32
	closed       atomic.Bool
}

func New(opts Options) *Container {
	c := &Container{opts: opts}

	fps := opts.FrameRate.Float64()
	c.frames = int64(math.Ceil(opts.Duration.Seconds() * fps))
	c.streams = append(c.streams, media.StreamInfo{
		Index:     videoIndex,
		Kind:      media.KindVideo,
		Codec:     "rawvideo",
		TimeBase:  media.TimeBase90kHz,
		FrameRate: opts.FrameRate,
		Width:     opts.Width,
		Height:    opts.Height,
	})

	if opts.Audio {
		c.packets = int64(math.Ceil(opts.Duration.Seconds() * float64(opts.SampleRate) / float64(opts.PacketSamples)))
		c.streams = append(c.streams, media.StreamInfo{
			Index:      audioIndex,
			Kind:       media.KindAudio,
			Codec:      "tone",
			TimeBase:   media.NewRational(1, opts.SampleRate),
			SampleRate: opts.SampleRate,
			Channels:   opts.Channels,
		})
	}

	if opts.Subtitles && opts.CueInterval > 0 && opts.Duration > opts.CueOffset {
		c.cues = int64((opts.Duration-opts.CueOffset-1)/opts.CueInterval) + 1
		c.streams = append(c.streams, media.StreamInfo{
			Index:    subtitleIndex,
			Kind:     media.KindSubtitle,
			Codec:    "subrip",
			TimeBase: media.TimeBase1kHz,
		})
	}
	return c
}

func (c *Container) Streams() []media.StreamInfo { return c.streams }

func (c *Container) Duration() time.Duration { return c.opts.Duration }

func (c *Container) frameTime(i int64) float64 {
	return float64(i) / c.opts.FrameRate.Float64()
}

func (c *Container) packetTime(i int64) float64 {
	return float64(i*int64(c.opts.PacketSamples)) / float64(c.opts.SampleRate)
}

func (c *Container) cueTime(i int64) float64 {
	return (c.opts.CueOffset + time.Duration(i)*c.opts.CueInterval).Seconds()
}

// ReadUnit returns the pending unit with the smallest timestamp, video first on ties.
func (c *Container) ReadUnit() (media.Unit, error) {
	if c.closed.Load() {
		return media.Unit{}, io.ErrClosedPipe
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	best, bestT := -1, math.Inf(1)
	if c.frame < c.frames {
		best, bestT = videoIndex, c.frameTime(c.frame)
	}
	if c.packet < c.packets && c.packetTime(c.packet) < bestT {
		best, bestT = audioIndex, c.packetTime(c.packet)
	}
	if c.cue < c.cues && c.cueTime(c.cue) < bestT {
		best = subtitleIndex
	}

	switch best {
	case videoIndex:
		return c.videoUnit(), nil
	case audioIndex:
		return c.audioUnit(), nil
	case subtitleIndex:
		return c.subtitleUnit(), nil
	default:
		return media.Unit{}, io.EOF
	}
}

func (c *Container) videoUnit() media.Unit {
	i := c.frame
	c.frame++
	tb := media.TimeBase90kHz
	ts := tb.Ticks(c.frameTime(i))
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(i))
	return media.Unit{
		Kind:        media.KindVideo,
		StreamIndex: videoIndex,
		DTS:         media.At(ts),
		PTS:         media.At(ts),
		Duration:    tb.Ticks(c.frameTime(1)),
		Keyframe:    i%int64(c.opts.GOP) == 0,
		Data:        data,
	}
}

func (c *Container) audioUnit() media.Unit {
	i := c.packet
	c.packet++
	ts := i * int64(c.opts.PacketSamples)
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(ts))
	return media.Unit{
		Kind:        media.KindAudio,
		StreamIndex: audioIndex,
		PTS:         media.At(ts),
		Duration:    int64(c.opts.PacketSamples),
		Keyframe:    true,
		Data:        data,
	}
}

func (c *Container) subtitleUnit() media.Unit {
	i := c.cue
	c.cue++
	ts := media.TimeBase1kHz.Ticks(c.cueTime(i))
	return media.Unit{
		Kind:        media.KindSubtitle,
		StreamIndex: subtitleIndex,
		PTS:         media.At(ts),
		Duration:    c.opts.CueLength.Milliseconds(),
		Keyframe:    true,
		Data:        []byte(fmt.Sprintf("Cue %d", i+1)),
	}
}

// Seek moves the video stream to the keyframe nearest target in the given
// direction and the other streams just after it. Targets are clamped to the stream.
func (c *Container) Seek(target time.Duration, dir media.SeekDirection) error {
	if c.opts.SeekErr != nil {
		return c.opts.SeekErr
	}
	if c.closed.Load() {
		return io.ErrClosedPipe
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if target < 0 {
		target = 0
	}
	gop := int64(c.opts.GOP)
	frame := int64(math.Floor(target.Seconds() * c.opts.FrameRate.Float64()))
	key := frame / gop * gop
	if dir == media.SeekForward && key < frame {
		key += gop
	}
	lastKey := (c.frames - 1) / gop * gop
	if key > lastKey {
		key = lastKey
	}
	if key < 0 {
		key = 0
	}

	t := c.frameTime(key)
	c.frame = key
	// Other streams resume at the first unit not before the keyframe.
	c.packet = int64(math.Ceil(t*float64(c.opts.SampleRate)/float64(c.opts.PacketSamples) - 1e-9))
	c.cue = 0
	for c.cue < c.cues && c.cueTime(c.cue) < t-1e-9 {
		c.cue++
	}
	c.seeks.Add(1)
	return nil
}

// Seeks is the number of successful repositions.
func (c *Container) Seeks() int { return int(c.seeks.Load()) }

// OpenDecoders is the number of decoder sessions currently open.
func (c *Container) OpenDecoders() int { return int(c.openDecoders.Load()) }

func (c *Container) OpenDecoder(info media.StreamInfo, opts media.DecoderOptions) (media.Decoder, error) {
	var d media.Decoder
	switch info.Kind {
	case media.KindVideo:
		d = &videoDecoder{width: c.opts.Width, height: c.opts.Height, frameDur: c.frameTime(1)}
	case media.KindAudio:
		format := opts.AudioFormat
		if format.SampleRate == 0 {
			format = media.S16(c.opts.SampleRate, c.opts.Channels)
		}
		if format.BytesPerSample != 2 {
			return nil, fmt.Errorf("synthetic: unsupported sample size %d", format.BytesPerSample)
		}
		d = &toneDecoder{format: format, streamRate: c.opts.SampleRate, hz: c.opts.ToneHz}
	case media.KindSubtitle:
		d = &cueDecoder{}
	default:
		return nil, fmt.Errorf("synthetic: no decoder for %s", info.Kind)
	}
	c.openDecoders.Add(1)
	return &counted{Decoder: d, open: &c.openDecoders}, nil
}

func (c *Container) Close() error {
	c.closed.Store(true)
	return nil
}
