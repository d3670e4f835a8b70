// Package subtitle keeps decoded subtitle spans until their display window has passed.
package subtitle

import (
	"sort"
	"strings"
	"sync"

	"github.com/zsiec/cadence/internal/media"
)

// Track is a time-ordered queue of subtitle spans. The subtitle decode worker
// pushes, the presenter asks for the text active at the video clock.
type Track struct {
	mu    sync.Mutex
	spans []media.SubtitleSpan
}

func NewTrack() *Track {
	return &Track{}
}

// Push inserts span in start order. Spans with an empty text or window are ignored.
func (t *Track) Push(span media.SubtitleSpan) {
	if span.Text == "" || span.End <= span.Start {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.spans), func(i int) bool { return t.spans[i].Start > span.Start })
	t.spans = append(t.spans, media.SubtitleSpan{})
	copy(t.spans[i+1:], t.spans[i:])
	t.spans[i] = span
}

// Active discards spans that ended before clock and returns the text of every
// span whose window contains it, joined by newlines.
func (t *Track) Active(clock float64) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.spans[:0]
	var lines []string
	for _, s := range t.spans {
		if clock > s.End {
			continue
		}
		kept = append(kept, s)
		if clock > s.Start {
			lines = append(lines, s.Text)
		}
	}
	t.spans = kept
	return strings.Join(lines, "\n")
}

// Reset drops every span. Called on seek.
func (t *Track) Reset() {
	t.mu.Lock()
	t.spans = nil
	t.mu.Unlock()
}

func (t *Track) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}
