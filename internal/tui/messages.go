package tui

import (
	"time"

	"github.com/mmcdole/kinoview/internal/domain"
)

// Message types for the TUI

// ErrMsg represents an error
type ErrMsg struct {
	Err     error
	Context string
}

// Error implements the error interface
func (e ErrMsg) Error() string {
	if e.Context != "" {
		return e.Context + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// GroupfoldersLoadedMsg carries the root listing. Err is set when the
// listing came from the cache because the server could not be reached.
type GroupfoldersLoadedMsg struct {
	Items     []domain.MediaItem
	Err       error
	FromCache bool
}

// FolderLoadedMsg carries a folder listing
type FolderLoadedMsg struct {
	ServerURL string
	Items     []domain.MediaItem
	FromCache bool
	Err       error
}

// PlaybackStartedMsg signals that Start returned for the item
type PlaybackStartedMsg struct {
	Item domain.MediaItem
}

// ToolbarMsg wraps a toolbar notification from the coordinator
type ToolbarMsg struct {
	Event ToolbarEvent
}

// PlayerStatusMsg refreshes the player bar
type PlayerStatusMsg struct {
	Position time.Duration
	Duration time.Duration
	State    domain.PlaybackState
}

// PlayerTimeMsg carries the position reported by the time observer
type PlayerTimeMsg struct {
	Position time.Duration
}

// PreferencesChangedMsg signals that preferences were reloaded from disk
type PreferencesChangedMsg struct{}

// LogoutMsg reports the outcome of a logout
type LogoutMsg struct {
	Err error
}

// ClearStatusMsg clears the status bar message
type ClearStatusMsg struct {
	ID int
}

// StatusMsg sets a temporary status message
type StatusMsg struct {
	Message string
	IsError bool
}
