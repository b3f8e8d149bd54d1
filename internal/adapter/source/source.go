package source

import (
	"fmt"
	"log/slog"

	"github.com/mmcdole/kinoview/internal/adapter"
	"github.com/mmcdole/kinoview/internal/adapter/source/nextcloud"
	"github.com/mmcdole/kinoview/internal/domain"
)

// FileSource combines the repository interfaces a file server backend must
// implement, plus the credentials the caching proxy forwards upstream.
type FileSource interface {
	domain.LibraryRepository // Browsing: HomeServerURL, ReadFileOrFolder, GetGroupfolders
	Credentials() domain.Credentials
}

// SourceConfig contains the configuration needed to create a FileSource
type SourceConfig struct {
	URL    string
	User   string // Login name
	Token  string // App password
	UserID string // WebDAV user id, defaults to User
}

// NewClient creates a FileSource for the configured server
func NewClient(cfg *SourceConfig, logger *slog.Logger) (FileSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("source config is nil")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.User == "" || cfg.Token == "" {
		return nil, fmt.Errorf("login name and app password are required")
	}
	return nextcloud.NewClient(cfg.URL, cfg.User, cfg.Token, cfg.UserID, logger), nil
}

// NewClientFromConfig creates a FileSource from the application config
func NewClientFromConfig(cfg *adapter.Config, logger *slog.Logger) (FileSource, error) {
	return NewClient(&SourceConfig{
		URL:    cfg.Server.URL,
		User:   cfg.Server.User,
		Token:  cfg.Server.Token,
		UserID: cfg.Server.UserID,
	}, logger)
}
