package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mmcdole/kinoview/internal/domain"
	"github.com/mmcdole/kinoview/internal/search"
	"github.com/mmcdole/kinoview/internal/tui/styles"
)

// Layout constants for list columns
const (
	// Border adds 1 char on each side
	BorderWidth  = 2
	BorderHeight = 2

	// Header line plus filter line
	HeaderLines = 2
)

// ListColumn is a scrollable folder listing with an inline filter
type ListColumn struct {
	title     string
	serverURL string // listing source, empty for the group folder root
	items     []domain.MediaItem

	// Selection
	cursor     int
	offset     int
	maxVisible int

	// Dimensions
	width   int
	height  int
	focused bool

	loading bool
	spinner string

	// Filter state
	filterActive bool
	filterInput  textinput.Model
	index        *search.Index
	filterFunc   func(query string) []search.Result // overrides index when set
	filtered     bool
	results      []search.Result

	emptyText string
}

// NewListColumn creates an empty, loading column
func NewListColumn(title, serverURL string) *ListColumn {
	ti := textinput.New()
	ti.Placeholder = "type to filter..."
	ti.Prompt = "/ "
	ti.PromptStyle = styles.FilterPromptStyle
	ti.TextStyle = styles.FilterStyle

	return &ListColumn{
		title:       title,
		serverURL:   serverURL,
		filterInput: ti,
		index:       search.NewIndex(nil),
		loading:     true,
		emptyText:   "empty folder",
	}
}

// NewFindColumn creates a column that filters with fn instead of its own items
func NewFindColumn(title string, fn func(query string) []search.Result) *ListColumn {
	c := NewListColumn(title, "")
	c.loading = false
	c.filterFunc = fn
	c.emptyText = "type to find in visited folders"
	return c
}

// IsFind reports whether the column is a find column
func (c *ListColumn) IsFind() bool { return c.filterFunc != nil }

// Title returns the column header
func (c *ListColumn) Title() string { return c.title }

// ServerURL returns the URL the listing was read from
func (c *ListColumn) ServerURL() string { return c.serverURL }

// Items returns the unfiltered listing
func (c *ListColumn) Items() []domain.MediaItem { return c.items }

// SetItems replaces the listing, keeping the cursor on the same item when possible
func (c *ListColumn) SetItems(items []domain.MediaItem) {
	var selectedID string
	if item, ok := c.SelectedItem(); ok {
		selectedID = item.ID
	}

	c.loading = false
	c.items = items
	c.index = search.NewIndex(items)
	c.applyFilter()

	c.cursor = 0
	c.offset = 0
	if selectedID != "" {
		for i := 0; i < c.ItemCount(); i++ {
			if c.itemAt(i).ID == selectedID {
				c.cursor = i
				break
			}
		}
	}
	c.ensureVisible()
}

func (c *ListColumn) SetLoading(loading bool) { c.loading = loading }

func (c *ListColumn) IsLoading() bool { return c.loading }

// SetSpinner sets the rendered spinner frame shown while loading
func (c *ListColumn) SetSpinner(view string) { c.spinner = view }

func (c *ListColumn) SetFocused(focused bool) { c.focused = focused }

func (c *ListColumn) SetSize(width, height int) {
	c.width = width
	c.height = height
	c.maxVisible = height - BorderHeight - HeaderLines
	if c.maxVisible < 1 {
		c.maxVisible = 1
	}
	c.ensureVisible()
}

// ItemCount returns the number of visible rows
func (c *ListColumn) ItemCount() int {
	if c.filtered {
		return len(c.results)
	}
	return len(c.items)
}

func (c *ListColumn) itemAt(i int) domain.MediaItem {
	if c.filtered {
		return c.results[i].Item
	}
	return c.items[i]
}

// SelectedItem returns the item under the cursor
func (c *ListColumn) SelectedItem() (domain.MediaItem, bool) {
	if c.cursor < 0 || c.cursor >= c.ItemCount() {
		return domain.MediaItem{}, false
	}
	return c.itemAt(c.cursor), true
}

func (c *ListColumn) SelectedIndex() int { return c.cursor }

func (c *ListColumn) SetSelectedIndex(idx int) {
	max := c.ItemCount() - 1
	if max < 0 {
		c.cursor = 0
		return
	}
	if idx < 0 {
		idx = 0
	}
	if idx > max {
		idx = max
	}
	c.cursor = idx
	c.ensureVisible()
}

// IsTyping reports whether keys go to the filter input
func (c *ListColumn) IsTyping() bool {
	return c.filterActive && c.filterInput.Focused()
}

// IsFiltered reports whether a filter query narrows the listing
func (c *ListColumn) IsFiltered() bool { return c.filtered }

// StartFilter focuses the filter input
func (c *ListColumn) StartFilter() tea.Cmd {
	c.filterActive = true
	return c.filterInput.Focus()
}

// ClearFilter drops the query and shows the whole listing
func (c *ListColumn) ClearFilter() {
	c.filterActive = false
	c.filterInput.Blur()
	c.filterInput.SetValue("")
	c.filtered = false
	c.results = nil
	c.cursor = 0
	c.offset = 0
}

func (c *ListColumn) applyFilter() {
	query := c.filterInput.Value()
	if !c.filterActive || strings.TrimSpace(query) == "" {
		c.filtered = false
		c.results = nil
		return
	}
	c.filtered = true
	if c.filterFunc != nil {
		c.results = c.filterFunc(query)
	} else {
		c.results = c.index.Filter(query)
	}
	c.cursor = 0
	c.offset = 0
}

// Update handles cursor movement and filter typing
func (c *ListColumn) Update(msg tea.Msg) (*ListColumn, tea.Cmd) {
	if !c.focused {
		return c, nil
	}

	if c.IsTyping() {
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "esc":
				c.ClearFilter()
				return c, nil
			case "enter":
				// Accept filter, keep results for navigation
				c.filterInput.Blur()
				return c, nil
			case "backspace":
				if c.filterInput.Value() == "" {
					c.ClearFilter()
					return c, nil
				}
			}
		}
		var cmd tea.Cmd
		c.filterInput, cmd = c.filterInput.Update(msg)
		c.applyFilter()
		return c, cmd
	}

	count := c.ItemCount()
	if count == 0 {
		return c, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "j", "down":
			if c.cursor < count-1 {
				c.cursor++
			}
		case "k", "up":
			if c.cursor > 0 {
				c.cursor--
			}
		case "g", "home":
			c.cursor = 0
		case "G", "end":
			c.cursor = count - 1
		case "ctrl+d", "pgdown":
			c.cursor += c.maxVisible / 2
			if c.cursor >= count {
				c.cursor = count - 1
			}
		case "ctrl+u", "pgup":
			c.cursor -= c.maxVisible / 2
			if c.cursor < 0 {
				c.cursor = 0
			}
		}
		c.ensureVisible()
	}
	return c, nil
}

func (c *ListColumn) ensureVisible() {
	if c.maxVisible <= 0 {
		return
	}
	if c.cursor < c.offset {
		c.offset = c.cursor
	}
	if c.cursor >= c.offset+c.maxVisible {
		c.offset = c.cursor - c.maxVisible + 1
	}
}

// View renders the bordered column
func (c *ListColumn) View() string {
	style := styles.InactiveBorder
	if c.focused {
		style = styles.ActiveBorder
	}
	frameW, frameH := style.GetFrameSize()
	inner := c.width - frameW
	if inner < 1 {
		inner = 1
	}

	var b strings.Builder
	header := styles.TitleStyle.Render(styles.Truncate(c.title, inner-8))
	if c.ItemCount() > 0 {
		header += styles.DimStyle.Render(fmt.Sprintf(" %d", c.ItemCount()))
	}
	b.WriteString(header)
	b.WriteString("\n")

	if c.filterActive {
		b.WriteString(c.filterInput.View())
	}
	b.WriteString("\n")

	switch {
	case c.loading && len(c.items) == 0:
		b.WriteString(styles.DimStyle.Render(c.spinner + " loading..."))
	case c.ItemCount() == 0 && c.filtered:
		b.WriteString(styles.DimStyle.Render("no matches"))
	case c.ItemCount() == 0:
		b.WriteString(styles.DimStyle.Render(c.emptyText))
	default:
		end := c.offset + c.maxVisible
		if end > c.ItemCount() {
			end = c.ItemCount()
		}
		for i := c.offset; i < end; i++ {
			var matched []int
			if c.filtered {
				matched = c.results[i].MatchedIndexes
			}
			b.WriteString(RenderItem(c.itemAt(i), matched, i == c.cursor, inner))
			if i < end-1 {
				b.WriteString("\n")
			}
		}
	}

	return style.
		Width(inner).
		Height(c.height - frameH).
		Render(b.String())
}

// RenderItem renders one listing row: marker, name and size or age
func RenderItem(item domain.MediaItem, matched []int, selected bool, width int) string {
	marker := " "
	switch {
	case item.Directory:
		marker = styles.DirectoryStyle.Render(styles.DirectoryChar)
	case item.LivePhoto:
		marker = styles.PlayableStyle.Render(styles.LiveChar)
	case item.IsPlayable():
		marker = styles.PlayableStyle.Render(styles.PlayableChar)
	}
	if item.Favorite {
		marker += styles.FavoriteStyle.Render(styles.FavoriteChar)
	} else {
		marker += " "
	}

	meta := itemMeta(item)
	// marker(2) + padding(2) + gap(1)
	nameWidth := width - 5 - lipgloss.Width(meta)
	if nameWidth < 4 {
		nameWidth = 4
		meta = ""
	}
	name := styles.Pad(highlightMatches(styles.Truncate(item.FileName, nameWidth), matched), nameWidth)

	style := styles.NormalItemStyle
	if selected {
		style = styles.SelectedItemStyle
	}
	return marker + style.Render(name+" "+styles.DimStyle.Render(meta))
}

func itemMeta(item domain.MediaItem) string {
	var parts []string
	if !item.Directory && item.Size > 0 {
		parts = append(parts, humanize.IBytes(uint64(item.Size)))
	}
	if !item.Date.IsZero() {
		parts = append(parts, humanize.Time(item.Date))
	}
	return strings.Join(parts, " · ")
}

// highlightMatches styles the runes at matched byte offsets
func highlightMatches(text string, matched []int) string {
	if len(matched) == 0 {
		return text
	}
	set := make(map[int]bool, len(matched))
	for _, idx := range matched {
		set[idx] = true
	}

	var b strings.Builder
	for i, r := range text {
		if set[i] {
			b.WriteString(styles.MatchStyle.Render(string(r)))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
