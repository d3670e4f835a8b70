package ffmpeg

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/subtitle"
)

// codecSession feeds packets to a libav codec and collects the frames it
// completes. It flushes codec state when the container was repositioned.
type codecSession struct {
	cc    *astiav.CodecContext
	info  media.StreamInfo
	pkt   *astiav.Packet
	frame *astiav.Frame

	seeks    *atomic.Uint64
	lastSeek uint64
}

func newCodecSession(cc *astiav.CodecContext, info media.StreamInfo, seeks *atomic.Uint64) codecSession {
	return codecSession{
		cc:       cc,
		info:     info,
		pkt:      astiav.AllocPacket(),
		frame:    astiav.AllocFrame(),
		seeks:    seeks,
		lastSeek: seeks.Load(),
	}
}

// decode sends u and calls emit for every frame received.
func (s *codecSession) decode(u media.Unit, emit func(*astiav.Frame) error) error {
	if n := s.seeks.Load(); n != s.lastSeek {
		s.cc.FlushBuffers()
		s.lastSeek = n
	}

	if err := s.pkt.FromData(u.Data); err != nil {
		return fmt.Errorf("packet from data: %w", err)
	}
	defer s.pkt.Unref()
	s.pkt.SetStreamIndex(u.StreamIndex)
	s.pkt.SetDts(tsValue(u.DTS))
	s.pkt.SetPts(tsValue(u.PTS))
	s.pkt.SetDuration(u.Duration)
	if u.Keyframe {
		s.pkt.SetFlags(s.pkt.Flags().Add(astiav.PacketFlagKey))
	}

	if err := s.cc.SendPacket(s.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("send packet: %w", err)
	}
	for {
		err := s.cc.ReceiveFrame(s.frame)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive frame: %w", err)
		}
		err = emit(s.frame)
		s.frame.Unref()
		if err != nil {
			return err
		}
	}
}

func (s *codecSession) close() {
	s.frame.Free()
	s.pkt.Free()
	s.cc.Free()
}

func tsValue(t media.Timestamp) int64 {
	if !t.Valid {
		return astiav.NoPtsValue
	}
	return t.Value
}

// videoDecoder converts every picture to I420.
type videoDecoder struct {
	codecSession
	scaler   scaler
	frameDur float64
}

func newVideoDecoder(cc *astiav.CodecContext, info media.StreamInfo, seeks *atomic.Uint64) *videoDecoder {
	d := &videoDecoder{codecSession: newCodecSession(cc, info, seeks)}
	if fr := info.FrameRate.Float64(); fr > 0 {
		d.frameDur = 1 / fr
	}
	return d
}

func (d *videoDecoder) Decode(u media.Unit) ([]media.DecodedUnit, error) {
	var out []media.DecodedUnit
	err := d.decode(u, func(f *astiav.Frame) error {
		vf, err := d.scaler.toI420(f)
		if err != nil {
			return err
		}
		out = append(out, media.DecodedUnit{
			Kind:     media.KindVideo,
			DTS:      timestamp(f.PktDts()),
			PTS:      timestamp(f.Pts()),
			Duration: d.frameDur,
			Video:    vf,
		})
		return nil
	})
	return out, err
}

func (d *videoDecoder) Close() error {
	d.scaler.close()
	d.close()
	return nil
}

// audioDecoder converts every block to the requested interleaved layout.
type audioDecoder struct {
	codecSession
	resampler resampler
}

func newAudioDecoder(cc *astiav.CodecContext, info media.StreamInfo, format media.AudioFormat, seeks *atomic.Uint64) *audioDecoder {
	return &audioDecoder{
		codecSession: newCodecSession(cc, info, seeks),
		resampler:    resampler{format: format},
	}
}

func (d *audioDecoder) Decode(u media.Unit) ([]media.DecodedUnit, error) {
	var out []media.DecodedUnit
	err := d.decode(u, func(f *astiav.Frame) error {
		samples, err := d.resampler.toS16(f)
		if err != nil {
			return err
		}
		var dur float64
		if sr := f.SampleRate(); sr > 0 {
			dur = float64(f.NbSamples()) / float64(sr)
		}
		out = append(out, media.DecodedUnit{
			Kind:     media.KindAudio,
			DTS:      timestamp(f.PktDts()),
			PTS:      timestamp(f.Pts()),
			Duration: dur,
			Audio:    samples,
		})
		return nil
	})
	return out, err
}

func (d *audioDecoder) Close() error {
	d.resampler.close()
	d.close()
	return nil
}

// textDecoder reads text subtitles straight from packet payloads.
type textDecoder struct {
	info media.StreamInfo
}

func newTextDecoder(info media.StreamInfo) *textDecoder {
	return &textDecoder{info: info}
}

func (d *textDecoder) Decode(u media.Unit) ([]media.DecodedUnit, error) {
	text := subtitle.Text(d.info.Codec, u.Data)
	if text == "" {
		return nil, nil
	}
	dur := d.info.TimeBase.Seconds(u.Duration)
	return []media.DecodedUnit{{
		Kind:     media.KindSubtitle,
		DTS:      u.DTS,
		PTS:      u.PTS,
		Duration: dur,
		Subtitle: &media.SubtitleText{Text: text, EndOffset: dur},
	}}, nil
}

func (d *textDecoder) Close() error { return nil }
