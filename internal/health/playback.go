package health

import (
	"context"
	"fmt"
	"sync"

	"github.com/zsiec/cadence/internal/player"
)

// StatusSource reports the player state.
type StatusSource interface {
	Status() player.Status
}

// PlaybackChecker reports the player down when nothing is playing and degraded
// when presentation stalls between two checks while playing.
type PlaybackChecker struct {
	source StatusSource

	mu            sync.Mutex
	lastSession   string
	lastPresented uint64
	lastWaits     uint64
}

func NewPlaybackChecker(source StatusSource) *PlaybackChecker {
	return &PlaybackChecker{source: source}
}

func (p *PlaybackChecker) Name() string {
	return "playback"
}

func (p *PlaybackChecker) Check(ctx context.Context) error {
	st := p.source.Status()
	if st.State == player.StateIdle {
		return fmt.Errorf("no media open")
	}
	if st.State == player.StateEnding {
		return Degraded("session ending")
	}
	if st.Presenter == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	sameSession := st.SessionID == p.lastSession
	stalled := sameSession && st.State == player.StatePlaying &&
		st.Presenter.Presented == p.lastPresented && st.Presenter.Waits > p.lastWaits

	p.lastSession = st.SessionID
	p.lastPresented = st.Presenter.Presented
	p.lastWaits = st.Presenter.Waits

	if stalled {
		return Degraded("no frame presented since last check")
	}
	return nil
}
