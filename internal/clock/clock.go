package clock

import (
	"sync"

	"github.com/zsiec/cadence/internal/media"
	"github.com/zsiec/cadence/internal/metrics"
)

// Presentation is the current presentation time of one stream, in seconds.
// Only the stream's decode worker writes it; everyone else reads.
type Presentation struct {
	kind media.Kind

	mu  sync.RWMutex
	now float64
	// end is now plus the last unit's duration; units without a timestamp start here.
	end float64
}

// New creates a clock at zero.
func New(kind media.Kind) *Presentation {
	return &Presentation{kind: kind}
}

// Observe resolves the presentation time of a decoded unit and advances the clock to it.
// A known timestamp is used as is; otherwise the unit is placed right after the previous one.
func (c *Presentation) Observe(ts float64, known bool, duration float64) float64 {
	c.mu.Lock()
	pts := c.end
	if known {
		pts = ts
	}
	c.now = pts
	c.end = pts
	if duration > 0 {
		c.end += duration
	}
	c.mu.Unlock()

	metrics.SetPresentationClock(c.kind.String(), pts)
	return pts
}

// Now returns the presentation time of the most recent unit.
func (c *Presentation) Now() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// End returns the time up to which the stream has been decoded.
func (c *Presentation) End() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.end
}

// Reset moves the clock to seconds and drops extrapolation state.
func (c *Presentation) Reset(seconds float64) {
	c.mu.Lock()
	c.now = seconds
	c.end = seconds
	c.mu.Unlock()

	metrics.SetPresentationClock(c.kind.String(), seconds)
}

// Kind returns the stream kind the clock belongs to.
func (c *Presentation) Kind() media.Kind {
	return c.kind
}
