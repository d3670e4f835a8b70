// Package ffmpeg opens media containers through libav.
package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/media"
)

var errClosed = errors.New("ffmpeg: container closed")

var bitmapSubtitles = map[string]bool{
	"dvd_subtitle":      true,
	"dvb_subtitle":      true,
	"hdmv_pgs_subtitle": true,
	"xsub":              true,
}

// Opener opens containers with libav. Options are passed to avformat as-is.
type Opener struct {
	Options map[string]string
	Logger  logger.Logger
}

// NewOpener returns an Opener and routes libav's log through log.
func NewOpener(log logger.Logger, options map[string]string) *Opener {
	log = logger.WithComponent(log, "libav")
	forwardLogs(log)
	return &Opener{Options: options, Logger: log}
}

// Open implements media.Opener.
func (o *Opener) Open(url string) (media.Container, error) {
	return Open(url, o.Options, o.Logger)
}

// Container is an open libav demuxer.
type Container struct {
	fc      *astiav.FormatContext
	pkt     *astiav.Packet
	streams []media.StreamInfo
	// byIndex maps libav stream indexes to the streams we expose.
	byIndex map[int]media.StreamInfo
	params  map[int]*astiav.CodecParameters
	log     logger.Logger

	mu     sync.Mutex
	closed bool
	// seeks counts repositions so decoders know to drop codec state.
	seeks atomic.Uint64
}

// Open opens url and probes its streams.
func Open(url string, options map[string]string, log logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("ffmpeg: alloc format context")
	}

	var dict *astiav.Dictionary
	if len(options) > 0 {
		dict = astiav.NewDictionary()
		defer dict.Free()
		for k, v := range options {
			if err := dict.Set(k, v, 0); err != nil {
				fc.Free()
				return nil, fmt.Errorf("ffmpeg: option %s: %w", k, err)
			}
		}
	}

	if err := fc.OpenInput(url, nil, dict); err != nil {
		fc.Free()
		return nil, fmt.Errorf("ffmpeg: open input: %w", err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, fmt.Errorf("ffmpeg: find stream info: %w", err)
	}

	c := &Container{
		fc:      fc,
		pkt:     astiav.AllocPacket(),
		byIndex: make(map[int]media.StreamInfo),
		params:  make(map[int]*astiav.CodecParameters),
		log:     log,
	}
	for _, s := range fc.Streams() {
		info, ok := describe(s)
		if !ok {
			continue
		}
		// First stream of each kind wins.
		if _, dup := media.FindStream(c.streams, info.Kind); dup {
			continue
		}
		c.streams = append(c.streams, info)
		c.byIndex[info.Index] = info
		c.params[info.Index] = s.CodecParameters()
	}

	if _, ok := media.FindStream(c.streams, media.KindVideo); !ok {
		_ = c.Close()
		return nil, media.ErrNoVideoStream
	}

	log.WithFields(logger.Fields{
		"url":      url,
		"streams":  len(c.streams),
		"duration": c.Duration().String(),
	}).Debug("Container opened")
	return c, nil
}

func describe(s *astiav.Stream) (media.StreamInfo, bool) {
	cp := s.CodecParameters()
	info := media.StreamInfo{
		Index:    s.Index(),
		Codec:    cp.CodecID().Name(),
		TimeBase: rational(s.TimeBase()),
	}
	switch cp.MediaType() {
	case astiav.MediaTypeVideo:
		info.Kind = media.KindVideo
		info.Width = cp.Width()
		info.Height = cp.Height()
		info.FrameRate = rational(s.AvgFrameRate())
	case astiav.MediaTypeAudio:
		info.Kind = media.KindAudio
		info.SampleRate = cp.SampleRate()
		info.Channels = cp.ChannelLayout().Channels()
	case astiav.MediaTypeSubtitle:
		info.Kind = media.KindSubtitle
	default:
		return media.StreamInfo{}, false
	}
	return info, true
}

func rational(r astiav.Rational) media.Rational {
	return media.Rational{Num: r.Num(), Den: r.Den()}
}

func (c *Container) Streams() []media.StreamInfo { return c.streams }

// Duration is the container duration, 0 when unknown.
func (c *Container) Duration() time.Duration {
	d := c.fc.Duration()
	if d <= 0 || d == astiav.NoPtsValue {
		return 0
	}
	return time.Duration(d) * time.Microsecond
}

// ReadUnit returns the next packet of an exposed stream. Packets of other
// streams are skipped.
func (c *Container) ReadUnit() (media.Unit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return media.Unit{}, errClosed
	}

	for {
		if err := c.fc.ReadFrame(c.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, io.EOF) {
				return media.Unit{}, io.EOF
			}
			return media.Unit{}, fmt.Errorf("ffmpeg: read frame: %w", err)
		}

		info, ok := c.byIndex[c.pkt.StreamIndex()]
		if !ok {
			c.pkt.Unref()
			continue
		}
		u := media.Unit{
			Kind:        info.Kind,
			StreamIndex: info.Index,
			DTS:         timestamp(c.pkt.Dts()),
			PTS:         timestamp(c.pkt.Pts()),
			Duration:    c.pkt.Duration(),
			Keyframe:    c.pkt.Flags().Has(astiav.PacketFlagKey),
			Data:        c.pkt.Data(),
		}
		c.pkt.Unref()
		return u, nil
	}
}

func timestamp(v int64) media.Timestamp {
	if v == astiav.NoPtsValue {
		return media.NoTimestamp
	}
	return media.At(v)
}

// Seek repositions on the container's global time base. Decoders opened on
// this container drop their buffered state on their next Decode.
func (c *Container) Seek(target time.Duration, dir media.SeekDirection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed
	}

	flags := astiav.NewSeekFlags()
	if dir == media.SeekBackward {
		flags = astiav.NewSeekFlags(astiav.SeekFlagBackward)
	}
	ts := target.Microseconds()
	if err := c.fc.SeekFrame(-1, ts, flags); err != nil {
		return fmt.Errorf("ffmpeg: seek to %s: %w", target, err)
	}
	c.seeks.Add(1)
	return nil
}

// OpenDecoder opens a codec session for one of the container's streams.
func (c *Container) OpenDecoder(info media.StreamInfo, opts media.DecoderOptions) (media.Decoder, error) {
	cp, ok := c.params[info.Index]
	if !ok {
		return nil, fmt.Errorf("ffmpeg: unknown stream %d", info.Index)
	}

	switch info.Kind {
	case media.KindSubtitle:
		if bitmapSubtitles[info.Codec] {
			return nil, fmt.Errorf("ffmpeg: bitmap subtitle codec %s is not supported", info.Codec)
		}
		return newTextDecoder(info), nil
	case media.KindVideo:
		cc, err := openCodec(cp, info)
		if err != nil {
			return nil, err
		}
		return newVideoDecoder(cc, info, &c.seeks), nil
	case media.KindAudio:
		cc, err := openCodec(cp, info)
		if err != nil {
			return nil, err
		}
		return newAudioDecoder(cc, info, opts.AudioFormat, &c.seeks), nil
	default:
		return nil, fmt.Errorf("ffmpeg: no decoder for %s", info.Kind)
	}
}

func openCodec(cp *astiav.CodecParameters, info media.StreamInfo) (*astiav.CodecContext, error) {
	codec := astiav.FindDecoder(cp.CodecID())
	if codec == nil {
		return nil, fmt.Errorf("ffmpeg: no %s decoder for %s", info.Kind, info.Codec)
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("ffmpeg: alloc codec context")
	}
	if err := cp.ToCodecContext(cc); err != nil {
		cc.Free()
		return nil, fmt.Errorf("ffmpeg: codec parameters: %w", err)
	}
	cc.SetPktTimebase(astiav.NewRational(info.TimeBase.Num, info.TimeBase.Den))
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("ffmpeg: open %s codec: %w", info.Codec, err)
	}
	return cc, nil
}

// Close releases the demuxer. Decoders must be closed separately.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.pkt.Free()
	c.fc.CloseInput()
	c.fc.Free()
	return nil
}
