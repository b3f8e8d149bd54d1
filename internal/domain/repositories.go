package domain

import (
	"context"
)

// Depth values for ReadFileOrFolder
const (
	DepthSelf     = "0"
	DepthChildren = "1"
)

// FilesRepository provides access to the server's file tree
type FilesRepository interface {
	// HomeServerURL returns the WebDAV root of the user's files
	HomeServerURL() string

	// Account returns the account identifier items are tagged with
	Account() string

	// ReadFileOrFolder lists serverURLFileName with the given depth.
	// Depth "0" returns the item itself, "1" also returns its children.
	// The first returned item is always the requested one.
	ReadFileOrFolder(ctx context.Context, serverURLFileName, depth string) ([]MediaItem, error)
}

// GroupfoldersRepository lists the group folders visible to the user
type GroupfoldersRepository interface {
	GetGroupfolders(ctx context.Context) ([]GroupFolder, error)
}

// LibraryRepository combines the remote operations the library service needs
type LibraryRepository interface {
	FilesRepository
	GroupfoldersRepository
}

// AuthResult contains the result of a successful authentication
type AuthResult struct {
	Token    string // App password used for API calls
	UserID   string // User identifier used in WebDAV paths
	Username string // Login name
}

// AuthFlow defines the authentication flow for the server.
type AuthFlow interface {
	// Run executes the authentication flow and returns credentials.
	// The serverURL parameter is the base URL of the server.
	// Implementations handle their own user interaction (prompting for credentials, etc.)
	Run(ctx context.Context, serverURL string) (*AuthResult, error)
}
