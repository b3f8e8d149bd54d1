package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mmcdole/kinoview/internal/tui/components"
	"github.com/mmcdole/kinoview/internal/tui/styles"
)

// Vertical chrome: breadcrumb line and status line
const chromeHeight = 2

// updateLayout sizes the listing and player bar to the terminal
func (m *Model) updateLayout() {
	if m.Width == 0 || m.Height == 0 {
		return
	}
	m.help.Width = m.Width
	m.bar.SetWidth(m.Width)

	height := m.Height - chromeHeight - m.helpHeight()
	if m.bar.Active() {
		height -= components.PlayerBarHeight
	}
	if height < 3 {
		height = 3
	}
	m.columns.SetSizes(m.Width, height)
}

func (m *Model) helpHeight() int {
	if !m.help.ShowAll {
		return 0
	}
	return lipgloss.Height(m.help.View(Keys))
}

// View renders the application
func (m Model) View() string {
	if m.Width == 0 {
		return "loading..."
	}

	parts := []string{m.renderBreadcrumb()}
	if top := m.columns.Top(); top != nil {
		parts = append(parts, top.View())
	}
	if m.bar.Active() {
		parts = append(parts, m.bar.View())
	}
	if m.help.ShowAll {
		parts = append(parts, m.help.View(Keys))
	}
	parts = append(parts, m.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderBreadcrumb shows the folder path from the root
func (m Model) renderBreadcrumb() string {
	crumb := strings.Join(m.columns.Titles(), " › ")
	return styles.AccentStyle.Render(styles.Truncate(crumb, m.Width))
}

// renderStatusBar shows the last status message, or short help
func (m Model) renderStatusBar() string {
	switch {
	case m.StatusMsg != "" && m.StatusIsErr:
		return styles.StatusBarStyle.Render(styles.ErrorStyle.Render(styles.Truncate(m.StatusMsg, m.Width-2)))
	case m.StatusMsg != "":
		return styles.StatusBarStyle.Render(styles.Truncate(m.StatusMsg, m.Width-2))
	case m.help.ShowAll:
		return ""
	default:
		return m.help.ShortHelpView(Keys.ShortHelp())
	}
}
