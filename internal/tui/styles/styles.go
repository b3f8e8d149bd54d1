package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	CloudBlue  = lipgloss.Color("#0082C9")
	SlateDark  = lipgloss.Color("#1F2937")
	SlateLight = lipgloss.Color("#374151")
	DimGray    = lipgloss.Color("#6B7280")
	LightGray  = lipgloss.Color("#9CA3AF")
	White      = lipgloss.Color("#F9FAFB")
	Green      = lipgloss.Color("#10B981")
	Red        = lipgloss.Color("#EF4444")
	Amber      = lipgloss.Color("#E5A00D")
)

// Borders
var (
	ActiveBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(CloudBlue)

	InactiveBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(DimGray)
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(White).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(LightGray)

	DimStyle = lipgloss.NewStyle().
			Foreground(DimGray)

	AccentStyle = lipgloss.NewStyle().
			Foreground(CloudBlue)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Red)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Green)
)

// Raw item markers (unstyled)
const (
	DirectoryChar = "▸"
	FavoriteChar  = "★"
	PlayableChar  = "▶"
	LiveChar      = "◎"
)

// Marker styles
var (
	DirectoryStyle = lipgloss.NewStyle().Foreground(CloudBlue)
	FavoriteStyle  = lipgloss.NewStyle().Foreground(Amber)
	PlayableStyle  = lipgloss.NewStyle().Foreground(Green)
)

// List item styles
var (
	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(White).
				Background(SlateLight).
				Padding(0, 1)

	NormalItemStyle = lipgloss.NewStyle().
			Foreground(LightGray).
			Padding(0, 1)

	MatchStyle = lipgloss.NewStyle().
			Foreground(CloudBlue).
			Bold(true)
)

// Filter styles
var (
	FilterPromptStyle = lipgloss.NewStyle().
				Foreground(CloudBlue).
				Bold(true)

	FilterStyle = lipgloss.NewStyle().
			Foreground(White)
)

// Player bar styles
var (
	PlayerBarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(CloudBlue).
			Padding(0, 1)

	PlayerStateStyle = lipgloss.NewStyle().
				Foreground(SlateDark).
				Background(CloudBlue).
				Bold(true).
				Padding(0, 1)

	PlayerTimeStyle = lipgloss.NewStyle().
			Foreground(LightGray)
)

// Status bar styles
var (
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(LightGray).
			Padding(0, 1)

	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(CloudBlue)

	HelpDescStyle = lipgloss.NewStyle().
			Foreground(DimGray)
)

// Truncate shortens s to width cells, ending with an ellipsis when cut
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if width <= 1 {
		return string(runes[:width])
	}
	for len(runes) > 0 && lipgloss.Width(string(runes))+1 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "…"
}

// Pad pads s with spaces to width cells
func Pad(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

// SpinnerFrames animate progress outside the TUI (setup flow)
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
