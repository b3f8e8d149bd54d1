package library

import "github.com/mmcdole/kinoview/internal/domain"

// Queries provides synchronous, cache-only reads.
type Queries struct {
	files domain.FilesRepository
	store domain.Store
}

// NewQueries creates a new Queries instance.
func NewQueries(files domain.FilesRepository, store domain.Store) *Queries {
	return &Queries{files: files, store: store}
}

// CachedGroupfolders returns the cached directory items of the group folder
// mount points, in group folder order. Mount points never read are skipped.
func (q *Queries) CachedGroupfolders() ([]domain.MediaItem, bool) {
	account := q.files.Account()
	folders, ok := q.store.GetGroupfolders(account)
	if !ok {
		return nil, false
	}

	home := q.files.HomeServerURL()
	dirs := make([]domain.MediaItem, 0, len(folders))
	for _, gf := range folders {
		if dir, ok := q.store.GetDirectory(account, home+gf.NormalizedMountPoint()); ok {
			dirs = append(dirs, *dir)
		}
	}
	return dirs, true
}

// CachedFolder returns the cached children of serverURL
func (q *Queries) CachedFolder(serverURL string) ([]domain.MediaItem, bool) {
	return q.store.GetFolder(q.files.Account(), serverURL)
}

// CachedDirectory returns the cached item describing serverURL itself
func (q *Queries) CachedDirectory(serverURL string) (*domain.MediaItem, bool) {
	return q.store.GetDirectory(q.files.Account(), serverURL)
}
