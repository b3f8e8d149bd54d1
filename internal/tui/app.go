package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/kinoview/internal/adapter"
	"github.com/mmcdole/kinoview/internal/domain"
	"github.com/mmcdole/kinoview/internal/library"
	"github.com/mmcdole/kinoview/internal/search"
	"github.com/mmcdole/kinoview/internal/tui/components"
	"github.com/mmcdole/kinoview/internal/tui/styles"
)

// Library is the folder source the browser reads
type Library interface {
	ReloadGroupfolders(ctx context.Context) ([]domain.MediaItem, error)
	CachedGroupfolders() ([]domain.MediaItem, bool)
	FetchFolder(ctx context.Context, serverURL string) ([]domain.MediaItem, error)
	CachedFolder(serverURL string) ([]domain.MediaItem, bool)
	InvalidateFolder(serverURL string)
}

// Player is the playback session driven by the player bar
type Player interface {
	Start(ctx context.Context, item domain.MediaItem, target *domain.RenderTarget, toolbar domain.Toolbar)
	Play() error
	TogglePlay() error
	Seek(offset time.Duration) error
	Remove()
	OnApplicationBackground()
	RefreshMute()
	CurrentTime() time.Duration
	Duration() (time.Duration, bool)
	ObserveTime(interval time.Duration, fn func(time.Duration))
	State() domain.PlaybackState
}

// Preferences is the live user preference set
type Preferences interface {
	Get() adapter.PreferencesConfig
	ToggleAudioMute() bool
	Changed() <-chan struct{}
}

const seekStep = 10 * time.Second

// Options wires the model to its services
type Options struct {
	Library     Library
	Player      Player
	Search      *search.Service
	Preferences Preferences
	Logout      func() error
	Target      domain.RenderTarget
	Logger      *slog.Logger
}

// Model is the main Bubble Tea model for the application
type Model struct {
	library Library
	player  Player
	search  *search.Service
	prefs   Preferences
	logout  func() error
	target  domain.RenderTarget
	logger  *slog.Logger

	columns *ColumnStack
	raw     map[string][]domain.MediaItem // unsorted listings by server URL
	bar     components.PlayerBar
	spinner spinner.Model
	help    help.Model

	events  chan ToolbarEvent
	toolbar *ChannelToolbar
	times   chan time.Duration

	// Dimensions
	Width  int
	Height int

	// UI state
	StatusMsg     string
	StatusIsErr   bool
	statusID      int
	confirmLogout bool
	quitMessage   string
}

// NewModel creates a new application model
func NewModel(opts Options) Model {
	logger := opts.Logger
	if logger == nil {
		logger = adapter.NullLogger()
	}
	events := make(chan ToolbarEvent, 16)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.AccentStyle

	m := Model{
		library: opts.Library,
		player:  opts.Player,
		search:  opts.Search,
		prefs:   opts.Preferences,
		logout:  opts.Logout,
		target:  opts.Target,
		logger:  logger,
		columns: NewColumnStack(),
		raw:     make(map[string][]domain.MediaItem),
		bar:     components.NewPlayerBar(),
		spinner: sp,
		help:    help.New(),
		events:  events,
		toolbar: NewChannelToolbar(events),
		times:   make(chan time.Duration, 1),
	}
	if m.search == nil {
		m.search = search.NewService(logger)
	}

	root := components.NewListColumn("Group folders", "")
	if cached, ok := m.library.CachedGroupfolders(); ok {
		m.showListing(root, cached)
		root.SetLoading(true)
	}
	m.columns.Reset(root)
	m.bar.SetMuted(m.prefs.Get().AudioMute)
	return m
}

// Init starts the initial loads and background loops
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		LoadGroupfoldersCmd(m.library),
		WaitForToolbarCmd(m.events),
		WaitForPreferencesCmd(m.prefs.Changed()),
		WaitForTimeCmd(m.times),
		m.spinner.Tick,
	)
}

// QuitMessage is printed after the program exits
func (m Model) QuitMessage() string { return m.quitMessage }

// Update handles all messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.updateLayout()
		return m, nil

	case tea.BlurMsg:
		// Terminal lost focus
		if m.bar.Active() {
			return m, func() tea.Msg {
				m.player.OnApplicationBackground()
				return nil
			}
		}
		return m, nil

	case tea.KeyMsg:
		cmd := m.handleKeyMsg(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.columns.SetSpinner(m.spinner.View())
		return m, cmd

	case GroupfoldersLoadedMsg:
		root := m.columns.Find("")
		if root != nil {
			m.showListing(root, msg.Items)
		}
		if msg.Err != nil {
			return m, m.setStatus(describeError("group folders", msg.Err), true)
		}
		return m, nil

	case FolderLoadedMsg:
		col := m.columns.Find(msg.ServerURL)
		if col != nil && (msg.Err == nil || msg.FromCache) {
			m.showListing(col, msg.Items)
		} else if col != nil {
			col.SetLoading(false)
		}
		if msg.Err != nil {
			return m, m.setStatus(describeError("folder", msg.Err), true)
		}
		return m, nil

	case PlaybackStartedMsg:
		return m, PlayerStatusCmd(m.player)

	case ToolbarMsg:
		cmd := m.handleToolbarEvent(msg.Event)
		return m, tea.Batch(cmd, WaitForToolbarCmd(m.events))

	case PlayerStatusMsg:
		if m.bar.Active() && msg.State != domain.StateIdle {
			m.bar.SetState(msg.State)
			m.bar.SetTimes(msg.Position, msg.Duration)
		}
		return m, nil

	case PlayerTimeMsg:
		if m.bar.Active() {
			m.bar.SetTimes(msg.Position, 0)
		}
		return m, WaitForTimeCmd(m.times)

	case PreferencesChangedMsg:
		m.relayout()
		m.bar.SetMuted(m.prefs.Get().AudioMute)
		return m, tea.Batch(
			PlayerCmd("applying mute", func() error { m.player.RefreshMute(); return nil }),
			WaitForPreferencesCmd(m.prefs.Changed()),
		)

	case LogoutMsg:
		if msg.Err != nil {
			return m, m.setStatus(describeError("logout", msg.Err), true)
		}
		m.player.Remove()
		m.quitMessage = "Logged out. Run kinoview again to connect to a server."
		return m, tea.Quit

	case ErrMsg:
		m.logger.Warn("ui action failed", "context", msg.Context, "error", msg.Err)
		return m, m.setStatus(msg.Error(), true)

	case StatusMsg:
		return m, m.setStatus(msg.Message, msg.IsError)

	case ClearStatusMsg:
		if msg.ID == m.statusID {
			m.StatusMsg = ""
			m.StatusIsErr = false
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	top := m.columns.Top()

	if m.confirmLogout {
		m.confirmLogout = false
		if msg.String() == "y" || msg.String() == "Y" {
			return LogoutCmd(m.logout)
		}
		return m.setStatus("logout cancelled", false)
	}

	// Filter input owns the keyboard while focused
	if top.IsTyping() {
		_, cmd := top.Update(msg)
		return cmd
	}

	switch {
	case key.Matches(msg, Keys.Quit):
		return tea.Quit

	case key.Matches(msg, Keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.updateLayout()
		return nil

	case key.Matches(msg, Keys.Enter):
		return m.openSelected()

	case key.Matches(msg, Keys.Back):
		if top.IsFiltered() {
			top.ClearFilter()
			return nil
		}
		m.columns.Pop()
		return nil

	case key.Matches(msg, Keys.Filter):
		return top.StartFilter()

	case key.Matches(msg, Keys.Find):
		col := components.NewFindColumn("Find", m.search.Filter)
		m.columns.Push(col)
		m.updateLayout()
		return col.StartFilter()

	case key.Matches(msg, Keys.Reload):
		return m.reload(top)

	case key.Matches(msg, Keys.Logout):
		m.confirmLogout = true
		return m.setStatus("log out and clear cache? (y/n)", false)

	case key.Matches(msg, Keys.Close):
		if top.IsFiltered() {
			top.ClearFilter()
			return nil
		}
		if m.bar.Active() {
			m.bar.Clear()
			m.updateLayout()
			return func() tea.Msg {
				m.player.Remove()
				return nil
			}
		}
		return nil
	}

	if m.bar.Active() {
		switch {
		case key.Matches(msg, Keys.PlayPause):
			return PlayerCmd("play/pause", m.player.TogglePlay)
		case key.Matches(msg, Keys.SeekBack):
			return m.seekBy(-seekStep)
		case key.Matches(msg, Keys.SeekForward):
			return m.seekBy(seekStep)
		case key.Matches(msg, Keys.Mute):
			muted := m.prefs.ToggleAudioMute()
			m.bar.SetMuted(muted)
			return PlayerCmd("applying mute", func() error { m.player.RefreshMute(); return nil })
		}
	}

	_, cmd := top.Update(msg)
	return cmd
}

// openSelected opens a directory or plays a file
func (m *Model) openSelected() tea.Cmd {
	item, ok := m.columns.Top().SelectedItem()
	if !ok {
		return nil
	}

	switch {
	case item.Directory:
		serverURL := item.ServerURLFileName()
		col := components.NewListColumn(item.FileName, serverURL)
		col.SetSpinner(m.spinner.View())
		if cached, ok := m.library.CachedFolder(serverURL); ok {
			m.showListing(col, cached)
			col.SetLoading(true)
		}
		m.columns.Push(col)
		m.updateLayout()
		return LoadFolderCmd(m.library, serverURL)

	case item.IsPlayable():
		m.bar.SetItem(item)
		m.bar.SetMuted(m.prefs.Get().AudioMute)
		m.updateLayout()
		return StartPlaybackCmd(m.player, item, m.target, m.toolbar)

	default:
		return m.setStatus(fmt.Sprintf("%s cannot be played", item.FileName), true)
	}
}

func (m *Model) reload(col *components.ListColumn) tea.Cmd {
	if col.IsFind() {
		return nil
	}
	col.SetLoading(true)
	if col.ServerURL() == "" {
		return LoadGroupfoldersCmd(m.library)
	}
	m.library.InvalidateFolder(col.ServerURL())
	return LoadFolderCmd(m.library, col.ServerURL())
}

func (m *Model) seekBy(delta time.Duration) tea.Cmd {
	target := m.player
	return PlayerCmd("seeking", func() error {
		offset := target.CurrentTime() + delta
		if d, ok := target.Duration(); ok && offset > d {
			offset = d
		}
		return target.Seek(offset)
	})
}

func (m *Model) handleToolbarEvent(ev ToolbarEvent) tea.Cmd {
	switch ev.Kind {
	case ToolbarReady:
		m.bar.SetState(domain.StateReady)
		m.bar.SetMessage("")
		return tea.Batch(
			PlayerCmd("starting playback", m.player.Play),
			PlayerStatusCmd(m.player),
			ObserveTimeCmd(m.player, m.times),
		)
	case ToolbarRateChanged:
		m.bar.SetMessage("")
		return PlayerStatusCmd(m.player)
	case ToolbarEnded:
		m.bar.SetMessage("ended")
		return tea.Batch(PlayerStatusCmd(m.player), m.setStatus("finished "+m.bar.Item().FileName, false))
	case ToolbarUnavailable:
		if m.bar.Active() && m.bar.Item().SameItem(ev.Item) {
			m.bar.Clear()
			m.updateLayout()
		}
		return m.setStatus(describeError("cannot play "+ev.Item.FileName, ev.Err), true)
	}
	return nil
}

// showListing orders items with the current layout and indexes them for find
func (m *Model) showListing(col *components.ListColumn, items []domain.MediaItem) {
	m.raw[col.ServerURL()] = items
	col.SetItems(library.BuildDataSource(items, m.layoutFor(col)))
	m.search.Add(items)
}

// relayout re-orders every listing after a preference change
func (m *Model) relayout() {
	for _, col := range m.columns.columns {
		if items, ok := m.raw[col.ServerURL()]; ok && !col.IsFind() {
			col.SetItems(library.BuildDataSource(items, m.layoutFor(col)))
		}
	}
}

func (m *Model) layoutFor(col *components.ListColumn) library.Layout {
	if col.ServerURL() == "" {
		return library.DefaultLayout()
	}
	p := m.prefs.Get()
	return library.Layout{
		Sort:            p.Sort,
		Ascending:       p.Ascending,
		DirectoryOnTop:  p.DirectoryOnTop,
		FavoriteOnTop:   p.FavoriteOnTop,
		ShowHiddenFiles: p.ShowHiddenFiles,
		FilterLivePhoto: true,
	}
}

func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.statusID++
	m.StatusMsg = text
	m.StatusIsErr = isErr
	return ClearStatusCmd(m.statusID)
}

func describeError(context string, err error) string {
	switch {
	case errors.Is(err, domain.ErrServerOffline):
		return context + ": server offline, showing cached data"
	case errors.Is(err, domain.ErrAuthFailed):
		return context + ": authentication failed, press L to log in again"
	case errors.Is(err, domain.ErrItemNotFound):
		return context + ": no longer on the server"
	default:
		return fmt.Sprintf("%s: %v", context, err)
	}
}
