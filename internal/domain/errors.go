package domain

import "errors"

// Sentinel errors for domain operations
var (
	// ErrItemNotFound indicates the requested item does not exist on the server
	ErrItemNotFound = errors.New("item not found")

	// ErrServerOffline indicates the server is unreachable
	ErrServerOffline = errors.New("server is unreachable")

	// ErrAuthFailed indicates the credentials were rejected
	ErrAuthFailed = errors.New("credentials are invalid")

	// ErrNotStreamable indicates an item cannot be served to the player
	ErrNotStreamable = errors.New("item cannot be streamed")

	// ErrProxyClosed indicates the caching proxy has been shut down
	ErrProxyClosed = errors.New("caching proxy is closed")

	// ErrEngineClosed indicates the playback handle is no longer usable
	ErrEngineClosed = errors.New("playback engine is closed")
)
