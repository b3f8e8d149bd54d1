package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mmcdole/kinoview/internal/domain"
	_ "modernc.org/sqlite"
)

const schemaVideoPositions = `
CREATE TABLE IF NOT EXISTS video_positions (
	account TEXT NOT NULL,
	item_id TEXT NOT NULL,
	offset_ms INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (account, item_id)
);`

// SQLitePositionStore implements domain.PositionStore on a sqlite database.
type SQLitePositionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLitePositionStore opens (or creates) the database at path.
// ":memory:" is accepted for throwaway stores.
func OpenSQLitePositionStore(path string, logger *slog.Logger) (*SQLitePositionStore, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and writes serialized
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaVideoPositions); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	return &SQLitePositionStore{db: db, logger: logger}, nil
}

func (s *SQLitePositionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLitePositionStore) GetPosition(item domain.MediaItem) (domain.Position, bool) {
	if item.LivePhoto {
		return domain.Position{}, false
	}

	var offsetMs, durationMs int64
	err := s.db.QueryRow(`
		SELECT offset_ms, duration_ms
		FROM video_positions
		WHERE account = ? AND item_id = ?
	`, item.Account, item.ID).Scan(&offsetMs, &durationMs)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("failed to read position", "item", item.ID, "error", err)
	}
	if err != nil || offsetMs == 0 {
		return domain.Position{}, false
	}

	return domain.Position{
		Offset:   time.Duration(offsetMs) * time.Millisecond,
		Duration: time.Duration(durationMs) * time.Millisecond,
	}, true
}

// SetPosition merges the non-nil fields into the item's row inside one transaction.
func (s *SQLitePositionStore) SetPosition(item domain.MediaItem, offset, duration *time.Duration) error {
	if item.LivePhoto || (offset == nil && duration == nil) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var offsetMs, durationMs int64
	err = tx.QueryRow(`
		SELECT offset_ms, duration_ms
		FROM video_positions
		WHERE account = ? AND item_id = ?
	`, item.Account, item.ID).Scan(&offsetMs, &durationMs)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if offset != nil {
		offsetMs = offset.Milliseconds()
	}
	if duration != nil {
		durationMs = duration.Milliseconds()
	}

	_, err = tx.Exec(`
		INSERT INTO video_positions (account, item_id, offset_ms, duration_ms, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account, item_id) DO UPDATE SET
			offset_ms = excluded.offset_ms,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at
	`, item.Account, item.ID, offsetMs, durationMs, time.Now().Unix())
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLitePositionStore) DeletePosition(item domain.MediaItem) error {
	_, err := s.db.Exec(`DELETE FROM video_positions WHERE account = ? AND item_id = ?`, item.Account, item.ID)
	return err
}
