package domain

import (
	"context"
	"time"
)

// ProxyService turns remote items into URLs the playback engine can open
// and controls whether the item is currently being fetched from upstream.
type ProxyService interface {
	// ResolveURL returns a locally servable URL for the item
	ResolveURL(ctx context.Context, item MediaItem) (string, error)

	// StartServing begins or continues serving the item with the given credentials
	StartServing(item MediaItem, creds Credentials)

	// StopServing stops fetching the item from upstream
	StopServing(item MediaItem)
}

// PositionStore persists the last watched position of items.
// At most one record exists per item.
type PositionStore interface {
	// GetPosition returns the stored record, false when none or when the offset is zero
	GetPosition(item MediaItem) (Position, bool)

	// SetPosition updates the non-nil fields, creating the record if needed
	SetPosition(item MediaItem, offset, duration *time.Duration) error

	// DeletePosition removes the record for the item
	DeletePosition(item MediaItem) error
}

// Toolbar is the UI surface that reflects playback state
type Toolbar interface {
	OnPlayerReady()
	OnRateChanged()
	OnPlaybackEnded()
	OnPlaybackUnavailable(item MediaItem, err error)
}

// MutePreference exposes the process-wide audio mute setting
type MutePreference interface {
	AudioMute() bool
}

// NopToolbar discards toolbar notifications
type NopToolbar struct{}

func (NopToolbar) OnPlayerReady()                         {}
func (NopToolbar) OnRateChanged()                         {}
func (NopToolbar) OnPlaybackEnded()                       {}
func (NopToolbar) OnPlaybackUnavailable(MediaItem, error) {}
