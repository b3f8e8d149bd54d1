package tui

import "github.com/mmcdole/kinoview/internal/domain"

// ToolbarEventKind identifies a toolbar notification
type ToolbarEventKind int

const (
	ToolbarReady ToolbarEventKind = iota
	ToolbarRateChanged
	ToolbarEnded
	ToolbarUnavailable
)

// ToolbarEvent is a playback notification carried into the Bubble Tea loop
type ToolbarEvent struct {
	Kind ToolbarEventKind
	Item domain.MediaItem
	Err  error
}

// ChannelToolbar adapts domain.Toolbar to a channel for Bubble Tea.
// The coordinator calls it with its lock held, so sends never block.
type ChannelToolbar struct {
	ch chan<- ToolbarEvent
}

// NewChannelToolbar creates a new channel-based toolbar.
func NewChannelToolbar(ch chan<- ToolbarEvent) *ChannelToolbar {
	return &ChannelToolbar{ch: ch}
}

func (t *ChannelToolbar) send(ev ToolbarEvent) {
	select {
	case t.ch <- ev:
	default: // Non-blocking if channel full
	}
}

func (t *ChannelToolbar) OnPlayerReady()   { t.send(ToolbarEvent{Kind: ToolbarReady}) }
func (t *ChannelToolbar) OnRateChanged()   { t.send(ToolbarEvent{Kind: ToolbarRateChanged}) }
func (t *ChannelToolbar) OnPlaybackEnded() { t.send(ToolbarEvent{Kind: ToolbarEnded}) }

func (t *ChannelToolbar) OnPlaybackUnavailable(item domain.MediaItem, err error) {
	t.send(ToolbarEvent{Kind: ToolbarUnavailable, Item: item, Err: err})
}
