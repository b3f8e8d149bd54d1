package service

import "github.com/mmcdole/kinoview/internal/adapter"

// SessionService manages user session operations
type SessionService struct {
	cachePaths []string
}

// NewSessionService creates a new SessionService. cachePaths are removed on
// logout; the default cache directory is used when none are given.
func NewSessionService(cachePaths ...string) *SessionService {
	return &SessionService{cachePaths: cachePaths}
}

// Logout clears server configuration and cached data
func (s *SessionService) Logout() error {
	// Clear server configuration
	if err := adapter.ClearServerConfig(); err != nil {
		return err
	}

	// Clear cache
	if err := adapter.ClearCache(s.cachePaths...); err != nil {
		return err
	}

	return nil
}
