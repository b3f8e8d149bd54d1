package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/kinoview/internal/domain"
)

// Command factories for async operations

const (
	listingTimeout = 30 * time.Second
	timeInterval   = 500 * time.Millisecond
	statusTimeout  = 4 * time.Second
)

// LoadGroupfoldersCmd refreshes the group folder root
func LoadGroupfoldersCmd(lib Library) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), listingTimeout)
		defer cancel()

		items, err := lib.ReloadGroupfolders(ctx)
		return GroupfoldersLoadedMsg{Items: items, Err: err, FromCache: err != nil}
	}
}

// LoadFolderCmd fetches a folder listing, falling back to the cache when offline
func LoadFolderCmd(lib Library, serverURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), listingTimeout)
		defer cancel()

		items, err := lib.FetchFolder(ctx, serverURL)
		if err != nil {
			cached, ok := lib.CachedFolder(serverURL)
			return FolderLoadedMsg{ServerURL: serverURL, Items: cached, FromCache: ok, Err: err}
		}
		return FolderLoadedMsg{ServerURL: serverURL, Items: items}
	}
}

// StartPlaybackCmd opens item in the player. Start blocks on URL resolution
// and the engine, so it runs off the update loop.
func StartPlaybackCmd(player Player, item domain.MediaItem, target domain.RenderTarget, toolbar domain.Toolbar) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), listingTimeout)
		defer cancel()

		target.Title = item.FileName
		player.Start(ctx, item, &target, toolbar)
		return PlaybackStartedMsg{Item: item}
	}
}

// PlayerCmd runs a player action off the update loop
func PlayerCmd(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return ErrMsg{Err: err, Context: action}
		}
		return nil
	}
}

// WaitForToolbarCmd waits for the next toolbar notification
func WaitForToolbarCmd(ch <-chan ToolbarEvent) tea.Cmd {
	return func() tea.Msg {
		return ToolbarMsg{Event: <-ch}
	}
}

// WaitForPreferencesCmd waits for preferences to change on disk
func WaitForPreferencesCmd(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		<-ch
		return PreferencesChangedMsg{}
	}
}

// ObserveTimeCmd subscribes to the playback position of the active item.
// Positions are dropped while the previous one is still unread.
func ObserveTimeCmd(player Player, ch chan<- time.Duration) tea.Cmd {
	return func() tea.Msg {
		player.ObserveTime(timeInterval, func(pos time.Duration) {
			select {
			case ch <- pos:
			default:
			}
		})
		return nil
	}
}

// WaitForTimeCmd waits for the next observed position
func WaitForTimeCmd(ch <-chan time.Duration) tea.Cmd {
	return func() tea.Msg {
		return PlayerTimeMsg{Position: <-ch}
	}
}

// PlayerStatusCmd refreshes the player bar once
func PlayerStatusCmd(player Player) tea.Cmd {
	return func() tea.Msg {
		return playerStatus(player)
	}
}

func playerStatus(player Player) PlayerStatusMsg {
	d, _ := player.Duration()
	return PlayerStatusMsg{
		Position: player.CurrentTime(),
		Duration: d,
		State:    player.State(),
	}
}

// LogoutCmd clears the saved server and cache
func LogoutCmd(logout func() error) tea.Cmd {
	return func() tea.Msg {
		return LogoutMsg{Err: logout()}
	}
}

// ClearStatusCmd clears status message id after a delay
func ClearStatusCmd(id int) tea.Cmd {
	return tea.Tick(statusTimeout, func(time.Time) tea.Msg {
		return ClearStatusMsg{ID: id}
	})
}
