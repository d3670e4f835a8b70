package synthetic

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/subtitle"
)

var errShortPacket = errors.New("synthetic: short packet")

// counted tracks open decoder sessions on the container.
type counted struct {
	media.Decoder
	open *atomic.Int32
	once sync.Once
}

func (c *counted) Close() error {
	c.once.Do(func() { c.open.Add(-1) })
	return c.Decoder.Close()
}

// videoDecoder renders a moving gradient whose brightness encodes the frame index.
type videoDecoder struct {
	width, height int
	frameDur      float64
}

func (d *videoDecoder) Decode(u media.Unit) ([]media.DecodedUnit, error) {
	if len(u.Data) < 8 {
		return nil, errShortPacket
	}
	idx := binary.BigEndian.Uint64(u.Data)

	w, h := d.width, d.height
	cw, ch := w/2, h/2
	y := make([]byte, w*h)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			y[row*w+col] = byte(uint64(col*255/max(w-1, 1)) + idx*4)
		}
	}
	uPlane := make([]byte, cw*ch)
	vPlane := make([]byte, cw*ch)
	for i := range uPlane {
		uPlane[i] = 128
		vPlane[i] = byte(64 + idx%128)
	}

	return []media.DecodedUnit{{
		Kind:     media.KindVideo,
		DTS:      u.DTS,
		PTS:      u.PTS,
		Duration: d.frameDur,
		Video: &media.VideoFrame{
			Width:   w,
			Height:  h,
			Planes:  [3][]byte{y, uPlane, vPlane},
			Pitches: [3]int{w, cw, cw},
		},
	}}, nil
}

func (d *videoDecoder) Close() error { return nil }

// toneDecoder synthesizes a sine tone in the requested interleaved S16 layout.
type toneDecoder struct {
	format     media.AudioFormat
	streamRate int
	hz         float64
}

func (d *toneDecoder) Decode(u media.Unit) ([]media.DecodedUnit, error) {
	if len(u.Data) < 8 {
		return nil, errShortPacket
	}
	start := int64(binary.BigEndian.Uint64(u.Data))
	seconds := float64(u.Duration) / float64(d.streamRate)
	t0 := float64(start) / float64(d.streamRate)

	n := int(math.Round(seconds * float64(d.format.SampleRate)))
	frame := d.format.FrameSize()
	data := make([]byte, n*frame)
	for i := 0; i < n; i++ {
		t := t0 + float64(i)/float64(d.format.SampleRate)
		v := int16(math.Sin(2*math.Pi*d.hz*t) * 0.2 * math.MaxInt16)
		for ch := 0; ch < d.format.Channels; ch++ {
			binary.LittleEndian.PutUint16(data[i*frame+ch*2:], uint16(v))
		}
	}

	return []media.DecodedUnit{{
		Kind:     media.KindAudio,
		PTS:      u.PTS,
		Duration: seconds,
		Audio:    &media.AudioSamples{Format: d.format, Data: data},
	}}, nil
}

func (d *toneDecoder) Close() error { return nil }

type cueDecoder struct{}

func (d *cueDecoder) Decode(u media.Unit) ([]media.DecodedUnit, error) {
	text := subtitle.Text("subrip", u.Data)
	if text == "" {
		return nil, nil
	}
	dur := media.TimeBase1kHz.Seconds(u.Duration)
	return []media.DecodedUnit{{
		Kind:     media.KindSubtitle,
		PTS:      u.PTS,
		Duration: dur,
		Subtitle: &media.SubtitleText{Text: text, EndOffset: dur},
	}}, nil
}

func (d *cueDecoder) Close() error { return nil }
