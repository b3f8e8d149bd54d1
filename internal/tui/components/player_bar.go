package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/dustin/go-humanize"
	"github.com/mmcdole/kinoview/internal/domain"
	"github.com/mmcdole/kinoview/internal/tui/styles"
)

// PlayerBarHeight is the rendered height including the border
const PlayerBarHeight = 4

// PlayerBar shows the active item, its state and a progress line
type PlayerBar struct {
	item     domain.MediaItem
	active   bool
	state    domain.PlaybackState
	position time.Duration
	duration time.Duration
	muted    bool
	message  string // short notice after the state, e.g. "ended"

	progress progress.Model
	width    int
}

// NewPlayerBar creates a hidden player bar
func NewPlayerBar() PlayerBar {
	return PlayerBar{
		progress: progress.New(
			progress.WithSolidFill(string(styles.CloudBlue)),
			progress.WithoutPercentage(),
		),
	}
}

// Active reports whether an item is shown
func (p PlayerBar) Active() bool { return p.active }

// Item returns the shown item
func (p PlayerBar) Item() domain.MediaItem { return p.item }

// SetItem shows item in the loading state
func (p *PlayerBar) SetItem(item domain.MediaItem) {
	p.item = item
	p.active = true
	p.state = domain.StateLoading
	p.position = 0
	p.duration = 0
	p.message = ""
}

// Clear hides the bar
func (p *PlayerBar) Clear() {
	p.active = false
	p.item = domain.MediaItem{}
	p.state = domain.StateIdle
	p.position = 0
	p.duration = 0
}

func (p *PlayerBar) SetState(state domain.PlaybackState) { p.state = state }

func (p *PlayerBar) SetMuted(muted bool) { p.muted = muted }

func (p *PlayerBar) SetMessage(msg string) { p.message = msg }

// SetTimes updates the position and, when known, the duration
func (p *PlayerBar) SetTimes(position, duration time.Duration) {
	p.position = position
	if duration > 0 {
		p.duration = duration
	}
}

func (p *PlayerBar) SetWidth(width int) {
	p.width = width
}

// Percent returns the played fraction in [0, 1]
func (p PlayerBar) Percent() float64 {
	if p.duration <= 0 {
		return 0
	}
	f := float64(p.position) / float64(p.duration)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// View renders the bar, empty when inactive
func (p PlayerBar) View() string {
	if !p.active {
		return ""
	}

	frameW, _ := styles.PlayerBarStyle.GetFrameSize()
	inner := p.width - frameW
	if inner < 20 {
		inner = 20
	}

	state := styles.PlayerStateStyle.Render(strings.ToUpper(p.state.String()))
	var info []string
	if p.item.Size > 0 {
		info = append(info, humanize.IBytes(uint64(p.item.Size)))
	}
	if p.muted {
		info = append(info, "muted")
	}
	if p.message != "" {
		info = append(info, p.message)
	}
	meta := styles.DimStyle.Render(strings.Join(info, " · "))
	titleWidth := inner - len(p.state.String()) - 3 - len(strings.Join(info, " · "))
	title := styles.TitleStyle.Render(styles.Truncate(p.item.FileName, titleWidth))
	top := state + " " + title + " " + meta

	times := fmt.Sprintf("%s / %s", FormatDuration(p.position), FormatDuration(p.duration))
	bar := p.progress
	bar.Width = inner - len(times) - 1
	if bar.Width < 4 {
		bar.Width = 4
	}
	bottom := bar.ViewAs(p.Percent()) + " " + styles.PlayerTimeStyle.Render(times)

	return styles.PlayerBarStyle.Width(inner).Render(top + "\n" + bottom)
}

// FormatDuration formats a duration as H:MM:SS or MM:SS
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
