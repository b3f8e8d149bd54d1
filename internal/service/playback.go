package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmcdole/kinoview/internal/domain"
)

// PlaybackCoordinator owns the lifecycle of the one active playback session:
// opening a stream through the caching proxy, tracking rate transitions,
// persisting and restoring the last watched position, and tearing down on
// removal.
//
// All methods and engine callbacks serialize on one mutex. Each session
// carries a token; callbacks and late URL resolutions carrying an older
// token are dropped. Toolbar methods are called with the lock held and must
// not call back into the coordinator.
type PlaybackCoordinator struct {
	engine    domain.Engine
	proxy     domain.ProxyService
	positions domain.PositionStore
	mute      domain.MutePreference
	logger    *slog.Logger

	mu      sync.Mutex
	creds   domain.Credentials
	state   domain.PlaybackState
	token   string
	item    *domain.MediaItem
	handle  domain.PlayerHandle
	layer   domain.Layer
	toolbar domain.Toolbar

	duration           time.Duration
	rateObserverActive bool
	endObserverActive  bool
	unsubscribeRate    func()
	unsubscribeEnd     func()
	stopTimeObserver   func()
}

// NewPlaybackCoordinator creates an idle coordinator
func NewPlaybackCoordinator(
	engine domain.Engine,
	proxy domain.ProxyService,
	positions domain.PositionStore,
	mute domain.MutePreference,
	creds domain.Credentials,
	logger *slog.Logger,
) *PlaybackCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackCoordinator{
		engine:    engine,
		proxy:     proxy,
		positions: positions,
		mute:      mute,
		creds:     creds,
		logger:    logger,
		state:     domain.StateIdle,
	}
}

// Start opens item and attaches its video to target.
// Starting the active or loading item again does nothing, as does a nil target.
// Failures are logged and reported through toolbar.OnPlaybackUnavailable.
func (c *PlaybackCoordinator) Start(ctx context.Context, item domain.MediaItem, target *domain.RenderTarget, toolbar domain.Toolbar) {
	if target == nil {
		c.logger.Debug("start skipped, no render target", "itemID", item.ID)
		return
	}
	if toolbar == nil {
		toolbar = domain.NopToolbar{}
	}

	c.mu.Lock()
	if c.item != nil && c.item.SameItem(item) {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()

	token := uuid.NewString()
	c.token = token
	c.item = &item
	c.toolbar = toolbar
	c.state = domain.StateLoading
	c.mu.Unlock()

	c.logger.Info("starting playback", "itemID", item.ID, "file", item.FileName, "session", token)

	handle, err := c.open(ctx, item)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != token {
		c.logger.Debug("discarding superseded start", "itemID", item.ID, "session", token)
		if handle != nil {
			_ = handle.Close()
		}
		return
	}
	if err != nil {
		c.logger.Warn("playback unavailable", "itemID", item.ID, "error", err)
		c.resetLocked()
		toolbar.OnPlaybackUnavailable(item, err)
		return
	}

	c.handle = handle

	if err := handle.SetMuted(c.mute.AudioMute()); err != nil {
		c.logger.Warn("failed to apply mute preference", "error", err)
	}
	if err := handle.Seek(0); err != nil {
		c.logger.Warn("failed to seek to start", "error", err)
	}

	layer, err := handle.AttachLayer(target)
	if err != nil {
		c.logger.Warn("failed to attach video layer", "error", err)
	}
	c.layer = layer

	c.unsubscribeEnd = handle.OnEnd(func() { c.onEnd(token) })
	c.endObserverActive = true
	c.unsubscribeRate = handle.OnRateChange(func(rate float64) { c.onRateChange(token, rate) })
	c.rateObserverActive = true

	c.duration = 0
	if d, ok := handle.Duration(); ok {
		c.duration = d
		if err := c.positions.SetPosition(item, nil, &d); err != nil {
			c.logger.Error("failed to save duration", "error", err, "itemID", item.ID)
		}
	}

	if pos, ok := c.positions.GetPosition(item); ok {
		if err := handle.Seek(pos.Offset); err != nil {
			c.logger.Warn("failed to restore position", "error", err, "offset", pos.Offset)
		}
	}

	c.state = domain.StateReady
	toolbar.OnPlayerReady()
}

func (c *PlaybackCoordinator) open(ctx context.Context, item domain.MediaItem) (domain.PlayerHandle, error) {
	url, err := c.proxy.ResolveURL(ctx, item)
	if err != nil {
		return nil, err
	}
	return c.engine.Open(ctx, url)
}

// Play starts serving the active item and resumes playback
func (c *PlaybackCoordinator) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return nil
	}
	c.proxy.StartServing(*c.item, c.creds)
	return c.handle.Play()
}

// Pause pauses playback and stops serving the active item
func (c *PlaybackCoordinator) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return nil
	}
	err := c.handle.Pause()
	c.proxy.StopServing(*c.item)
	return err
}

// TogglePlay pauses when playing and plays otherwise
func (c *PlaybackCoordinator) TogglePlay() error {
	c.mu.Lock()
	playing := c.handle != nil && c.handle.Rate() != 0
	c.mu.Unlock()
	if playing {
		return c.Pause()
	}
	return c.Play()
}

// Seek moves the active handle to offset
func (c *PlaybackCoordinator) Seek(offset time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	return c.handle.Seek(offset)
}

// Remove tears the session down and returns to Idle
func (c *PlaybackCoordinator) Remove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

// OnApplicationBackground pauses video playback without tearing down
func (c *PlaybackCoordinator) OnApplicationBackground() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil || c.item.Class != domain.ClassVideo {
		return
	}
	if err := c.handle.Pause(); err != nil {
		c.logger.Warn("failed to pause on background", "error", err)
	}
}

// ObserveTime calls fn with the playback position every interval until
// the session ends or ObserveTime is called again
func (c *PlaybackCoordinator) ObserveTime(interval time.Duration, fn func(time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return
	}
	if c.stopTimeObserver != nil {
		c.stopTimeObserver()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stopTimeObserver = cancel
	token := c.token

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pos, ok := c.positionFor(token)
				if !ok {
					return
				}
				fn(pos)
			}
		}
	}()
}

func (c *PlaybackCoordinator) positionFor(token string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != token || c.handle == nil {
		return 0, false
	}
	return c.handle.Position(), true
}

// CurrentTime returns the playback position, zero when idle
func (c *PlaybackCoordinator) CurrentTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return 0
	}
	return c.handle.Position()
}

// Duration returns the length of the active item, false while unknown
func (c *PlaybackCoordinator) Duration() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return 0, false
	}
	if d, ok := c.handle.Duration(); ok {
		c.duration = d
	}
	return c.duration, c.duration > 0
}

// ActiveItem returns the active or loading item
func (c *PlaybackCoordinator) ActiveItem() (domain.MediaItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.item == nil {
		return domain.MediaItem{}, false
	}
	return *c.item, true
}

// State returns the session state
func (c *PlaybackCoordinator) State() domain.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RefreshMute re-applies the mute preference to the active handle
func (c *PlaybackCoordinator) RefreshMute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return
	}
	if err := c.handle.SetMuted(c.mute.AudioMute()); err != nil {
		c.logger.Warn("failed to apply mute preference", "error", err)
	}
}

// onRateChange runs on the handle's callback goroutine
func (c *PlaybackCoordinator) onRateChange(token string, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != token || c.handle == nil {
		c.logger.Debug("dropping stale rate change", "session", token, "rate", rate)
		return
	}
	c.applyRateLocked(rate)
}

func (c *PlaybackCoordinator) applyRateLocked(rate float64) {
	item := *c.item

	if rate != 0 {
		c.state = domain.StatePlaying
	} else if c.state == domain.StatePlaying {
		c.state = domain.StatePaused
	}
	c.toolbar.OnRateChanged()

	if rate == 1 {
		// Every transition to playing returns to the stored position,
		// including resume after a user seek.
		if pos, ok := c.positions.GetPosition(item); ok {
			if err := c.handle.Seek(pos.Offset); err != nil {
				c.logger.Warn("failed to seek to stored position", "error", err)
			}
			if err := c.handle.SetMuted(c.mute.AudioMute()); err != nil {
				c.logger.Warn("failed to apply mute preference", "error", err)
			}
		}
		return
	}

	if item.LivePhoto {
		return
	}

	if d, ok := c.handle.Duration(); ok {
		c.duration = d
	}
	position := c.handle.Position()
	if position < c.duration {
		if err := c.positions.SetPosition(item, &position, nil); err != nil {
			c.logger.Error("failed to save position", "error", err, "itemID", item.ID)
		}
		return
	}
	if err := c.positions.DeletePosition(item); err != nil {
		c.logger.Error("failed to delete position", "error", err, "itemID", item.ID)
	}
}

// onEnd runs on the handle's callback goroutine
func (c *PlaybackCoordinator) onEnd(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != token || c.handle == nil {
		c.logger.Debug("dropping stale end of item", "session", token)
		return
	}
	if err := c.handle.Seek(0); err != nil {
		c.logger.Warn("failed to rewind after end", "error", err)
	}
	c.toolbar.OnPlaybackEnded()
}

// teardownLocked releases the current session, loading or active
func (c *PlaybackCoordinator) teardownLocked() {
	if c.item == nil {
		return
	}
	item := *c.item

	if h := c.handle; h != nil {
		wasPlaying := h.Rate() != 0
		if err := h.Pause(); err != nil {
			c.logger.Debug("pause during teardown failed", "error", err)
		}
		// The pause callback is dropped once the token is cleared, so the
		// position is recorded here while the session is still current
		if wasPlaying {
			c.applyRateLocked(0)
		}
		if err := h.Seek(0); err != nil {
			c.logger.Debug("seek during teardown failed", "error", err)
		}
	}

	if c.stopTimeObserver != nil {
		c.stopTimeObserver()
		c.stopTimeObserver = nil
	}

	if c.rateObserverActive {
		c.unsubscribeRate()
		c.unsubscribeEnd()
		c.proxy.StopServing(item)
		c.rateObserverActive = false
		c.endObserverActive = false
	}

	if c.layer != nil {
		if err := c.layer.Detach(); err != nil {
			c.logger.Debug("detach failed", "error", err)
		}
	}
	if c.handle != nil {
		if err := c.handle.Close(); err != nil {
			c.logger.Debug("close failed", "error", err)
		}
	}

	c.logger.Info("playback removed", "itemID", item.ID, "session", c.token)
	c.resetLocked()
}

func (c *PlaybackCoordinator) resetLocked() {
	c.token = ""
	c.item = nil
	c.handle = nil
	c.layer = nil
	c.toolbar = domain.NopToolbar{}
	c.duration = 0
	c.rateObserverActive = false
	c.endObserverActive = false
	c.unsubscribeRate = nil
	c.unsubscribeEnd = nil
	c.state = domain.StateIdle
}
