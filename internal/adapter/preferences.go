package adapter

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Preferences wraps PreferencesConfig with thread-safe access and live reload
type Preferences struct {
	mu  sync.RWMutex
	cfg PreferencesConfig

	changed chan struct{}
	logger  *slog.Logger
}

// NewPreferences creates preferences seeded with cfg
func NewPreferences(cfg PreferencesConfig, logger *slog.Logger) *Preferences {
	if logger == nil {
		logger = NullLogger()
	}
	return &Preferences{cfg: cfg, changed: make(chan struct{}, 1), logger: logger}
}

// Get returns a copy of the current preferences
func (p *Preferences) Get() PreferencesConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Set replaces the preferences and notifies watchers
func (p *Preferences) Set(cfg PreferencesConfig) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	p.notify()
}

// AudioMute implements domain.MutePreference
func (p *Preferences) AudioMute() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.AudioMute
}

// ToggleAudioMute flips the mute preference, persists it and returns the new value
func (p *Preferences) ToggleAudioMute() bool {
	p.mu.Lock()
	p.cfg.AudioMute = !p.cfg.AudioMute
	cfg := p.cfg
	p.mu.Unlock()

	p.save(cfg)
	return cfg.AudioMute
}

// Changed delivers a value whenever preferences change (coalesced)
func (p *Preferences) Changed() <-chan struct{} {
	return p.changed
}

func (p *Preferences) notify() {
	select {
	case p.changed <- struct{}{}:
	default:
		// Channel full, skip notification
	}
}

func (p *Preferences) save(cfg PreferencesConfig) {
	setPreferences(cfg)
	if err := writeConfig(); err != nil {
		p.logger.Warn("failed to persist preferences", "error", err)
	}
}

// Watch reloads preferences when the config file changes on disk
func (p *Preferences) Watch() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := viper.Unmarshal(&cfg); err != nil {
			p.logger.Warn("config reload failed", "file", e.Name, "error", err)
			return
		}
		p.logger.Debug("preferences reloaded", "file", e.Name)
		p.Set(cfg.Preferences)
	})
	viper.WatchConfig()
}
