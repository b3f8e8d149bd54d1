package domain

// Store handles the local cache (BoltDB + memory) for listings and positions.
// TUI reads directly from Store for cache access.
type Store interface {
	PositionStore

	// === Group folders ===
	GetGroupfolders(account string) ([]GroupFolder, bool)
	SaveGroupfolders(account string, folders []GroupFolder) error

	// === Directories (keyed by the directory's own URL) ===
	GetDirectory(account, serverURL string) (*MediaItem, bool)
	SaveDirectory(account, serverURL string, dir MediaItem) error

	// === Folder listings (keyed by the listed directory's URL) ===
	GetFolder(account, serverURL string) ([]MediaItem, bool)
	SaveFolder(account, serverURL string, items []MediaItem) error

	// === Invalidation ===
	InvalidateFolder(account, serverURL string)
	InvalidateAccount(account string)
	InvalidateAll()

	Close() error
}
