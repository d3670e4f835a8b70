package terminal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/cadence/internal/control"
	"github.com/zsiec/cadence/internal/player"
)

const (
	refreshInterval = 250 * time.Millisecond
	defaultWidth    = 80
	barWidth        = 30
)

type tickMsg time.Time

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type model struct {
	d      *Display
	status player.Status
	screen screen
	width  int
}

func newModel(d *Display) *model {
	return &model{d: d}
}

func (m *model) Init() tea.Cmd {
	return tickEvery(refreshInterval)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		if cmd, ok := keyCommand(msg.String(), m.d.opts.SeekStep, m.d.opts.VolumeStep); ok {
			m.d.emit(cmd)
		}
	case tickMsg:
		m.refresh()
		return m, tickEvery(refreshInterval)
	}
	return m, nil
}

func (m *model) refresh() {
	if m.d.opts.Status != nil {
		m.status = m.d.opts.Status()
	}
	m.screen = m.d.snapshot()
}

// keyCommand maps a bubbletea key name to a player command.
func keyCommand(key string, seekStep, volumeStep float64) (control.Command, bool) {
	switch key {
	case " ", "p":
		return control.TogglePause(), true
	case "left", "h":
		return control.Seek(-seekStep), true
	case "right", "l":
		return control.Seek(seekStep), true
	case "up", "+", "=":
		return control.VolumeStep(volumeStep), true
	case "down", "-":
		return control.VolumeStep(-volumeStep), true
	case "enter", "f":
		return control.ToggleFullscreen(), true
	case "r":
		return control.Restart(), true
	case "q", "esc", "ctrl+c":
		return control.Quit(), true
	}
	return control.Command{}, false
}

func (m *model) View() string {
	width := m.width
	if width <= 0 {
		width = defaultWidth
	}
	inner := width - 4

	title := m.d.opts.Title
	if title == "" {
		title = "cadence"
	}
	header := HeaderStyle.Width(inner).Render(
		lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", StateBadge(m.status.State)))

	sections := []string{header, m.playbackPanel(inner)}
	if m.status.State != player.StateIdle {
		sections = append(sections, m.pipelinePanel(inner))
	}
	if sub := m.screen.overlay.Subtitle; sub != "" {
		sections = append(sections, SubtitleStyle.Width(inner).Render(sub))
	}
	sections = append(sections, MutedStyle.Render(
		"space pause · ←/→ seek · ↑/↓ volume · f fullscreen · r restart · q quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m *model) playbackPanel(width int) string {
	st := m.status
	rows := []string{PanelTitleStyle.Render("Playback")}
	if st.Media != "" {
		rows = append(rows, row("Media", st.Media))
	}

	progress := 0
	if st.Duration > 0 {
		progress = int(st.Position / st.Duration * 100)
	}
	rows = append(rows,
		row("Position", fmt.Sprintf("%s / %s", clock(st.Position), clock(st.Duration))),
		"  "+renderBar(progress, barWidth),
		row("Volume", fmt.Sprintf("%s %3.0f%%", renderBar(int(st.Volume*100), barWidth/2), st.Volume*100)),
		row("Picture", m.pictureLine()),
	)
	if st.Restarts > 0 {
		rows = append(rows, row("Restarts", fmt.Sprint(st.Restarts)))
	}
	return PanelStyle.Width(width).Render(strings.Join(rows, "\n"))
}

func (m *model) pictureLine() string {
	s := m.screen
	if s.width == 0 {
		return MutedStyle.Render("no frame yet")
	}
	mode := "window"
	if s.fullscreen {
		mode = "fullscreen"
	}
	return fmt.Sprintf("%dx%d  %d frames  %s", s.width, s.height, s.presented, mode)
}

func (m *model) pipelinePanel(width int) string {
	st := m.status
	rows := []string{PanelTitleStyle.Render("Sync")}

	if st.Sync != nil {
		drift := fmt.Sprintf("%+.0f ms", st.Sync.Drift*1000)
		if abs(st.Sync.Drift) > 0.1 {
			drift = WarningStyle.Render(drift)
		}
		rows = append(rows,
			row("Mode", st.SyncMode),
			row("Drift", drift),
			row("Delay", st.Sync.LastDelay.Round(time.Millisecond).String()),
		)
	}
	if st.Audio != nil && st.Audio.Underruns > 0 {
		rows = append(rows, row("Underruns", WarningStyle.Render(fmt.Sprint(st.Audio.Underruns))))
	}

	if len(st.Queues) > 0 {
		kinds := make([]string, 0, len(st.Queues))
		for k := range st.Queues {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, k := range kinds {
			parts = append(parts, fmt.Sprintf("%s %d", k, st.Queues[k]))
		}
		rows = append(rows, row("Queues", strings.Join(parts, "  ")))
	}
	if st.Presenter != nil && st.Presenter.LastError != "" {
		rows = append(rows, row("Error", ErrorStyle.Render(st.Presenter.LastError)))
	}
	return PanelStyle.Width(width).Render(strings.Join(rows, "\n"))
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func renderBar(progress, width int) string {
	progress = max(0, min(progress, 100))
	filled := progress * width / 100
	return lipgloss.NewStyle().Foreground(Success).Render(strings.Repeat("█", filled)) +
		MutedStyle.Render(strings.Repeat("░", width-filled))
}

// clock formats seconds as m:ss or h:mm:ss.
func clock(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h, mnt, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mnt, s)
	}
	return fmt.Sprintf("%d:%02d", mnt, s)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
