package terminal

import "github.com/charmbracelet/lipgloss"

var (
	Primary   = lipgloss.Color("#FF6B35")
	Secondary = lipgloss.Color("#1E88E5")
	Success   = lipgloss.Color("#4CAF50")
	Warning   = lipgloss.Color("#FFB74D")
	Error     = lipgloss.Color("#F44336")

	Text       = lipgloss.Color("#E0E0E0")
	TextBright = lipgloss.Color("#FFFFFF")
	Muted      = lipgloss.Color("#90A4AE")

	PanelBg    = lipgloss.Color("#161B26")
	HeaderBg   = lipgloss.Color("#1C2128")
	BorderDark = lipgloss.Color("#30363D")

	Playing = lipgloss.Color("#66BB6A")
	Paused  = lipgloss.Color("#FFC107")
	Idle    = lipgloss.Color("#424242")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Background(HeaderBg).
			Padding(0, 2).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDark).
			Foreground(Text).
			Padding(0, 1)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(11)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Italic(true).
			Padding(0, 1)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)
)

// StateBadge renders the playback state.
func StateBadge(state string) string {
	style := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch state {
	case "playing":
		return style.Foreground(Playing).Render("▶ PLAYING")
	case "paused":
		return style.Foreground(Paused).Render("❚❚ PAUSED")
	case "ending":
		return style.Foreground(Warning).Render("■ ENDING")
	default:
		return style.Foreground(Idle).Render("○ IDLE")
	}
}
