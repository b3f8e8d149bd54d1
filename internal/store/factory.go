package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmcdole/kinoview/internal/domain"
)

// Position store backends
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// PositionStoreCloser is a position store owning resources
type PositionStoreCloser interface {
	domain.PositionStore
	io.Closer
}

// NewPositionStore picks the position backend. For "bolt" (or empty) the
// shared library store is reused; "sqlite" opens positions.db under dir.
func NewPositionStore(backend, dir string, library *LibraryStore, logger *slog.Logger) (PositionStoreCloser, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendBolt:
		if library == nil {
			return nil, fmt.Errorf("bolt position backend requires a library store")
		}
		return nopCloser{library}, nil
	case BackendSQLite:
		path := ":memory:"
		if dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "positions.db")
		}
		return OpenSQLitePositionStore(path, logger)
	default:
		return nil, fmt.Errorf("unsupported position backend %q", backend)
	}
}

// nopCloser leaves closing to the library store's owner
type nopCloser struct {
	domain.PositionStore
}

func (nopCloser) Close() error { return nil }
