package ffmpeg

import (
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/cadence/internal/media"
)

// scaler converts decoded pictures to tightly packed I420. The context is
// rebuilt when the source geometry or pixel format changes.
type scaler struct {
	ssc        *astiav.SoftwareScaleContext
	dst        *astiav.Frame
	srcW, srcH int
	srcPix     astiav.PixelFormat
}

func (s *scaler) ensure(src *astiav.Frame) error {
	w, h, pix := src.Width(), src.Height(), src.PixelFormat()
	if s.ssc != nil && w == s.srcW && h == s.srcH && pix == s.srcPix {
		return nil
	}
	s.close()

	ssc, err := astiav.CreateSoftwareScaleContext(w, h, pix, w, h, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear))
	if err != nil {
		return fmt.Errorf("scale context %dx%d %s: %w", w, h, pix, err)
	}
	dst := astiav.AllocFrame()
	dst.SetWidth(w)
	dst.SetHeight(h)
	dst.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("alloc scaled frame: %w", err)
	}

	s.ssc, s.dst = ssc, dst
	s.srcW, s.srcH, s.srcPix = w, h, pix
	return nil
}

func (s *scaler) toI420(src *astiav.Frame) (*media.VideoFrame, error) {
	if err := s.ensure(src); err != nil {
		return nil, err
	}
	if err := s.ssc.ScaleFrame(src, s.dst); err != nil {
		return nil, fmt.Errorf("scale frame: %w", err)
	}
	n, err := s.dst.ImageBufferSize(1)
	if err != nil {
		return nil, fmt.Errorf("image buffer size: %w", err)
	}
	buf := make([]byte, n)
	if _, err := s.dst.ImageCopyToBuffer(buf, 1); err != nil {
		return nil, fmt.Errorf("image copy: %w", err)
	}
	return splitI420(buf, s.srcW, s.srcH), nil
}

// splitI420 slices a packed I420 image into its planes.
func splitI420(buf []byte, w, h int) *media.VideoFrame {
	cw, ch := (w+1)/2, (h+1)/2
	ySize, cSize := w*h, cw*ch
	if len(buf) < ySize+2*cSize {
		return &media.VideoFrame{Width: w, Height: h}
	}
	return &media.VideoFrame{
		Width:  w,
		Height: h,
		Planes: [3][]byte{
			buf[:ySize],
			buf[ySize : ySize+cSize],
			buf[ySize+cSize : ySize+2*cSize],
		},
		Pitches: [3]int{w, cw, cw},
	}
}

func (s *scaler) close() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}

// resampler converts decoded audio to interleaved S16 at the output rate.
type resampler struct {
	format media.AudioFormat
	swr    *astiav.SoftwareResampleContext
	dst    *astiav.Frame
}

func (r *resampler) toS16(src *astiav.Frame) (*media.AudioSamples, error) {
	if r.swr == nil {
		r.swr = astiav.AllocSoftwareResampleContext()
		r.dst = astiav.AllocFrame()
	}
	r.dst.SetSampleFormat(astiav.SampleFormatS16)
	r.dst.SetChannelLayout(channelLayout(r.format.Channels))
	r.dst.SetSampleRate(r.format.SampleRate)

	if err := r.swr.ConvertFrame(src, r.dst); err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	defer r.dst.Unref()

	data, err := r.dst.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("resampled data: %w", err)
	}
	if need := r.dst.NbSamples() * r.format.FrameSize(); need < len(data) {
		data = data[:need]
	}
	return &media.AudioSamples{Format: r.format, Data: data}, nil
}

func channelLayout(channels int) astiav.ChannelLayout {
	if channels == 1 {
		return astiav.ChannelLayoutMono
	}
	return astiav.ChannelLayoutStereo
}

func (r *resampler) close() {
	if r.dst != nil {
		r.dst.Free()
		r.dst = nil
	}
	if r.swr != nil {
		r.swr.Free()
		r.swr = nil
	}
}
