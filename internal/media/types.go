package media

import (
	"errors"
	"fmt"
)

// ErrNoVideoStream is returned when a container has no playable video stream.
var ErrNoVideoStream = errors.New("no video stream found")

// Kind identifies the elementary stream a unit belongs to.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
	KindSubtitle
)

// String returns the lower-case stream kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Kinds lists every stream kind in routing order.
var Kinds = []Kind{KindVideo, KindAudio, KindSubtitle}

// Timestamp is a stream-relative tick count that may be unknown.
type Timestamp struct {
	Value int64
	Valid bool
}

// At returns a known timestamp.
func At(v int64) Timestamp {
	return Timestamp{Value: v, Valid: true}
}

// NoTimestamp is the unknown timestamp.
var NoTimestamp = Timestamp{}

// UnitTag distinguishes ordinary data units from stream markers.
type UnitTag uint8

const (
	TagData UnitTag = iota
	TagEndOfStream
)

// Unit is one compressed chunk of an elementary stream.
type Unit struct {
	Tag         UnitTag
	Kind        Kind
	StreamIndex int
	DTS         Timestamp
	PTS         Timestamp
	Duration    int64 // in stream time base ticks, 0 if unknown
	Keyframe    bool
	Data        []byte
}

// EndOfStream builds the explicit end marker for a stream kind.
func EndOfStream(kind Kind, streamIndex int) Unit {
	return Unit{Tag: TagEndOfStream, Kind: kind, StreamIndex: streamIndex}
}

// IsEndOfStream reports whether u marks stream exhaustion.
func (u Unit) IsEndOfStream() bool {
	return u.Tag == TagEndOfStream
}

// DecodeTime returns the timestamp the clock should follow: DTS first, then PTS.
func DecodeTime(dts, pts Timestamp) Timestamp {
	if dts.Valid {
		return dts
	}
	return pts
}

// AudioFormat describes interleaved PCM.
type AudioFormat struct {
	SampleRate     int
	Channels       int
	BytesPerSample int
}

// S16 is interleaved signed 16-bit PCM, the layout every audio decoder is asked for.
func S16(sampleRate, channels int) AudioFormat {
	return AudioFormat{SampleRate: sampleRate, Channels: channels, BytesPerSample: 2}
}

// BytesPerSecond is the playback byte rate.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BytesPerSample
}

// FrameSize is the size of one sample across all channels.
func (f AudioFormat) FrameSize() int {
	return f.Channels * f.BytesPerSample
}

// Seconds converts a byte count to playback seconds.
func (f AudioFormat) Seconds(n int) float64 {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return float64(n) / float64(bps)
}

// AudioSamples is a block of decoded PCM.
type AudioSamples struct {
	Format AudioFormat
	Data   []byte
}

// VideoFrame is a decoded picture in planar YUV 4:2:0 (I420) layout.
type VideoFrame struct {
	Width  int
	Height int
	// Y, U and V planes with their line sizes.
	Planes  [3][]byte
	Pitches [3]int
	// PTS is the resolved presentation time in seconds.
	PTS float64
}

// SubtitleText is decoded subtitle text with display offsets relative to its timestamp.
type SubtitleText struct {
	Text        string
	StartOffset float64
	EndOffset   float64
}

// SubtitleSpan is subtitle text bound to absolute presentation times.
type SubtitleSpan struct {
	Start float64
	End   float64
	Text  string
}

// DecodedUnit is the raw output of one decode step.
type DecodedUnit struct {
	Kind Kind
	DTS  Timestamp
	PTS  Timestamp
	// Duration in seconds, 0 if unknown.
	Duration float64
	// Time is the resolved presentation time in seconds, filled in by the decode worker.
	Time float64

	Audio    *AudioSamples
	Video    *VideoFrame
	Subtitle *SubtitleText
}
