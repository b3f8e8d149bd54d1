package source

import (
	"log/slog"

	"github.com/mmcdole/kinoview/internal/adapter/source/nextcloud"
	"github.com/mmcdole/kinoview/internal/domain"
)

// NewAuthFlow creates the interactive login flow: login name plus an app
// password, verified against the user endpoint.
func NewAuthFlow(logger *slog.Logger) domain.AuthFlow {
	return nextcloud.NewAuthFlow(logger)
}
