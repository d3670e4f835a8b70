package media

import "time"

// SeekDirection tells the container which keyframe to land on.
type SeekDirection int

const (
	// SeekForward lands on the nearest keyframe at or after the target.
	SeekForward SeekDirection = iota
	// SeekBackward lands on the nearest keyframe at or before the target.
	SeekBackward
)

func (d SeekDirection) String() string {
	if d == SeekBackward {
		return "backward"
	}
	return "forward"
}

// StreamInfo describes one elementary stream of a container.
type StreamInfo struct {
	Index     int
	Kind      Kind
	Codec     string
	TimeBase  Rational
	FrameRate Rational

	Width  int
	Height int

	SampleRate int
	Channels   int
}

// DecoderOptions carries decoder preferences.
type DecoderOptions struct {
	// AudioFormat is the interleaved layout audio output must be converted to.
	AudioFormat AudioFormat
}

// Decoder is an open codec session for one stream.
type Decoder interface {
	// Decode consumes one unit and returns the units it completed, possibly none.
	Decode(u Unit) ([]DecodedUnit, error)
	Close() error
}

// Container is an open media source.
type Container interface {
	Streams() []StreamInfo
	Duration() time.Duration
	// ReadUnit returns the next unit in container order, or io.EOF at end of input.
	ReadUnit() (Unit, error)
	Seek(target time.Duration, dir SeekDirection) error
	OpenDecoder(info StreamInfo, opts DecoderOptions) (Decoder, error)
	Close() error
}

// Opener opens containers by URL.
type Opener interface {
	Open(url string) (Container, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(url string) (Container, error)

// Open implements Opener.
func (f OpenerFunc) Open(url string) (Container, error) {
	return f(url)
}

// FindStream returns the first stream of the given kind.
func FindStream(streams []StreamInfo, kind Kind) (StreamInfo, bool) {
	for _, s := range streams {
		if s.Kind == kind {
			return s, true
		}
	}
	return StreamInfo{}, false
}
