package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndOfStreamIsTagged(t *testing.T) {
	eos := EndOfStream(KindVideo, 0)
	assert.True(t, eos.IsEndOfStream())
	assert.Empty(t, eos.Data)

	// A payload that looks like the old magic string is still ordinary data.
	data := Unit{Kind: KindVideo, Data: []byte("LAST")}
	assert.False(t, data.IsEndOfStream())
}

func TestDecodeTimePriority(t *testing.T) {
	tests := []struct {
		name string
		dts  Timestamp
		pts  Timestamp
		want Timestamp
	}{
		{"dts wins", At(10), At(20), At(10)},
		{"pts fallback", NoTimestamp, At(20), At(20)},
		{"both unknown", NoTimestamp, NoTimestamp, NoTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeTime(tt.dts, tt.pts))
		})
	}
}

func TestRationalConversions(t *testing.T) {
	tb := TimeBase90kHz
	assert.InDelta(t, 1.5, tb.Seconds(135000), 1e-9)
	assert.Equal(t, int64(135000), tb.Ticks(1.5))
	assert.Equal(t, int64(-900), tb.Ticks(-0.01))

	assert.Equal(t, 0.0, Rational{Num: 1}.Float64())
	assert.Equal(t, Rational{Num: 1, Den: 1}, NewRational(1, 0))
	assert.Equal(t, Rational{Num: 1, Den: 25}, FrameRate25.Invert())
}

func TestAudioFormat(t *testing.T) {
	f := S16(48000, 2)
	assert.Equal(t, 192000, f.BytesPerSecond())
	assert.Equal(t, 4, f.FrameSize())
	assert.InDelta(t, 0.5, f.Seconds(96000), 1e-9)
	assert.Equal(t, 0.0, AudioFormat{}.Seconds(100))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "video", KindVideo.String())
	assert.Equal(t, "audio", KindAudio.String())
	assert.Equal(t, "subtitle", KindSubtitle.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestFindStream(t *testing.T) {
	streams := []StreamInfo{
		{Index: 0, Kind: KindAudio},
		{Index: 1, Kind: KindVideo},
	}
	s, ok := FindStream(streams, KindVideo)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Index)

	_, ok = FindStream(streams, KindSubtitle)
	assert.False(t, ok)
}
