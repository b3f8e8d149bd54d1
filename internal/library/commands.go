package library

import (
	"context"
	"log/slog"

	"github.com/mmcdole/kinoview/internal/domain"
)

// Commands provides operations that hit the network and refresh the cache
type Commands struct {
	repo   domain.LibraryRepository
	store  domain.Store
	logger *slog.Logger
}

// NewCommands creates a new Commands instance.
func NewCommands(repo domain.LibraryRepository, store domain.Store, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{repo: repo, store: store, logger: logger}
}

// ReloadGroupfolders refreshes the group folder listing and returns the
// mount point directories. When the server cannot be reached the cached
// listing is returned together with the error.
func (c *Commands) ReloadGroupfolders(ctx context.Context) ([]domain.MediaItem, error) {
	account := c.repo.Account()
	queries := NewQueries(c.repo, c.store)

	folders, err := c.repo.GetGroupfolders(ctx)
	if err != nil {
		c.logger.Error("failed to fetch group folders", "error", err)
		cached, _ := queries.CachedGroupfolders()
		return cached, err
	}
	if err := c.store.SaveGroupfolders(account, folders); err != nil {
		c.logger.Error("failed to save group folders", "error", err)
	}

	home := c.repo.HomeServerURL()
	for _, gf := range folders {
		serverURLFileName := home + gf.NormalizedMountPoint()
		if _, ok := c.store.GetDirectory(account, serverURLFileName); ok {
			continue
		}
		items, err := c.repo.ReadFileOrFolder(ctx, serverURLFileName, domain.DepthSelf)
		if err != nil || len(items) == 0 {
			c.logger.Warn("failed to read group folder", "mountPoint", gf.MountPoint, "error", err)
			continue
		}
		if err := c.store.SaveDirectory(account, serverURLFileName, items[0]); err != nil {
			c.logger.Error("failed to save directory", "error", err, "serverURL", serverURLFileName)
		}
	}

	dirs, _ := queries.CachedGroupfolders()
	c.logger.Debug("reloaded group folders", "count", len(folders), "directories", len(dirs))
	return dirs, nil
}

// FetchFolder lists the children of serverURL and caches them
func (c *Commands) FetchFolder(ctx context.Context, serverURL string) ([]domain.MediaItem, error) {
	account := c.repo.Account()

	items, err := c.repo.ReadFileOrFolder(ctx, serverURL, domain.DepthChildren)
	if err != nil {
		c.logger.Error("failed to fetch folder", "error", err, "serverURL", serverURL)
		return nil, err
	}

	if err := c.store.SaveDirectory(account, serverURL, items[0]); err != nil {
		c.logger.Error("failed to save directory", "error", err, "serverURL", serverURL)
	}

	children := MarkLivePairs(items[1:])
	if err := c.store.SaveFolder(account, serverURL, children); err != nil {
		c.logger.Error("failed to save folder", "error", err, "serverURL", serverURL)
	}
	c.logger.Debug("fetched folder", "count", len(children), "serverURL", serverURL)
	return children, nil
}

// InvalidateFolder drops the cached listing of serverURL and its subfolders
func (c *Commands) InvalidateFolder(serverURL string) {
	c.store.InvalidateFolder(c.repo.Account(), serverURL)
	c.logger.Info("invalidated folder cache", "serverURL", serverURL)
}

// InvalidateAll drops every cached listing
func (c *Commands) InvalidateAll() {
	c.store.InvalidateAll()
	c.logger.Info("invalidated all cache")
}
