package library

import (
	"log/slog"

	"github.com/mmcdole/kinoview/internal/domain"
)

// Service bundles the network commands and cache queries of the file library
type Service struct {
	*Commands
	*Queries
}

// NewService creates a new library service.
func NewService(repo domain.LibraryRepository, store domain.Store, logger *slog.Logger) *Service {
	return &Service{
		Commands: NewCommands(repo, store, logger),
		Queries:  NewQueries(repo, store),
	}
}

// HomeServerURL returns the WebDAV root of the user's files
func (s *Service) HomeServerURL() string {
	return s.Commands.repo.HomeServerURL()
}
