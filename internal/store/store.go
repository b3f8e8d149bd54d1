package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/kinoview/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketPositions    = []byte("positions")
	bucketGroupfolders = []byte("groupfolders")
	bucketDirectories  = []byte("directories")
	bucketFolders      = []byte("folders")
)

var allBuckets = [][]byte{bucketPositions, bucketGroupfolders, bucketDirectories, bucketFolders}

// positionRecord is the serialized form of a stored position.
// Millisecond precision, zero offset means "no position yet".
type positionRecord struct {
	OffsetMs   int64 `json:"offset_ms"`
	DurationMs int64 `json:"duration_ms"`
	UpdatedAt  int64 `json:"updated_at"`
}

// LibraryStore implements domain.Store using BoltDB.
type LibraryStore struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte
	// gen counts writes; a read promotes only if none started or finished meanwhile
	gen uint64
}

// NewLibraryStore opens the store under baseCacheDir, one database per server.
// An empty baseCacheDir selects memory-only mode.
func NewLibraryStore(baseCacheDir, serverURL string) (*LibraryStore, error) {
	if baseCacheDir == "" {
		// Memory-only mode (no persistence)
		return &LibraryStore{cache: make(map[string][]byte)}, nil
	}

	dir := baseCacheDir
	if serverURL != "" {
		dir = filepath.Join(baseCacheDir, hashServerURL(serverURL))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return openBolt(filepath.Join(dir, "kinoview.db"))
}

func openBolt(dbPath string) (*LibraryStore, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &LibraryStore{db: db, cache: make(map[string][]byte)}, nil
}

func hashServerURL(serverURL string) string {
	normalized := strings.TrimRight(strings.ToLower(serverURL), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

func (s *LibraryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// === Generic helpers ===

func (s *LibraryStore) get(bucket []byte, key string, dest interface{}) bool {
	cacheKey := string(bucket) + ":" + key

	// Check memory cache first
	s.mu.RLock()
	if data, ok := s.cache[cacheKey]; ok {
		s.mu.RUnlock()
		return json.Unmarshal(data, dest) == nil
	}
	gen := s.gen
	s.mu.RUnlock()

	if s.db == nil {
		return false
	}

	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})

	if data == nil {
		return false
	}

	s.promote(cacheKey, data, gen)
	return json.Unmarshal(data, dest) == nil
}

// promote caches data read from bolt at generation gen, unless a write
// has touched the store since
func (s *LibraryStore) promote(cacheKey string, data []byte, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	if _, ok := s.cache[cacheKey]; !ok {
		s.cache[cacheKey] = data
	}
}

func (s *LibraryStore) bump() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

func (s *LibraryStore) set(bucket []byte, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	s.cache[cacheKey] = data
	s.gen++
	s.mu.Unlock()

	if s.db == nil {
		return nil // Memory-only mode
	}
	defer s.bump()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.Put([]byte(key), data)
	})
}

func (s *LibraryStore) delete(bucket []byte, key string) error {
	cacheKey := string(bucket) + ":" + key

	s.mu.Lock()
	delete(s.cache, cacheKey)
	s.gen++
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	defer s.bump()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *LibraryStore) deletePrefix(bucket []byte, prefix string) {
	s.mu.Lock()
	cachePrefix := string(bucket) + ":" + prefix
	for k := range s.cache {
		if strings.HasPrefix(k, cachePrefix) {
			delete(s.cache, k)
		}
	}
	s.gen++
	s.mu.Unlock()

	if s.db == nil {
		return
	}
	defer s.bump()

	s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		prefixBytes := []byte(prefix)
		for k, _ := c.Seek(prefixBytes); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// positionKey identifies an item within its account
func positionKey(item domain.MediaItem) string {
	return item.Account + ":" + item.ID
}

// folderKey keys listings by account and directory URL (hierarchical: acct:{account}:url:{url})
func folderKey(account, serverURL string) string {
	return "acct:" + account + ":url:" + strings.TrimRight(serverURL, "/")
}

// === Positions ===

func (s *LibraryStore) GetPosition(item domain.MediaItem) (domain.Position, bool) {
	if item.LivePhoto {
		return domain.Position{}, false
	}
	var rec positionRecord
	if !s.get(bucketPositions, positionKey(item), &rec) {
		return domain.Position{}, false
	}
	if rec.OffsetMs == 0 {
		return domain.Position{}, false
	}
	return domain.Position{
		Offset:   time.Duration(rec.OffsetMs) * time.Millisecond,
		Duration: time.Duration(rec.DurationMs) * time.Millisecond,
	}, true
}

// SetPosition merges the non-nil fields into the item's record.
// Live pairings are never stored.
func (s *LibraryStore) SetPosition(item domain.MediaItem, offset, duration *time.Duration) error {
	if item.LivePhoto || (offset == nil && duration == nil) {
		return nil
	}

	key := positionKey(item)

	// Serialize read-modify-write so concurrent partial updates cannot drop a field
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec positionRecord
	cacheKey := string(bucketPositions) + ":" + key
	if data, ok := s.cache[cacheKey]; ok {
		_ = json.Unmarshal(data, &rec)
	} else if s.db != nil {
		s.db.View(func(tx *bolt.Tx) error {
			if v := tx.Bucket(bucketPositions).Get([]byte(key)); v != nil {
				_ = json.Unmarshal(v, &rec)
			}
			return nil
		})
	}

	if offset != nil {
		rec.OffsetMs = offset.Milliseconds()
	}
	if duration != nil {
		rec.DurationMs = duration.Milliseconds()
	}
	rec.UpdatedAt = time.Now().Unix()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.cache[cacheKey] = data

	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).Put([]byte(key), data)
	})
}

func (s *LibraryStore) DeletePosition(item domain.MediaItem) error {
	return s.delete(bucketPositions, positionKey(item))
}

// === Group folders ===

func (s *LibraryStore) GetGroupfolders(account string) ([]domain.GroupFolder, bool) {
	var folders []domain.GroupFolder
	ok := s.get(bucketGroupfolders, "acct:"+account, &folders)
	return folders, ok
}

func (s *LibraryStore) SaveGroupfolders(account string, folders []domain.GroupFolder) error {
	return s.set(bucketGroupfolders, "acct:"+account, folders)
}

// === Directories ===

func (s *LibraryStore) GetDirectory(account, serverURL string) (*domain.MediaItem, bool) {
	var dir domain.MediaItem
	if !s.get(bucketDirectories, folderKey(account, serverURL), &dir) {
		return nil, false
	}
	return &dir, true
}

func (s *LibraryStore) SaveDirectory(account, serverURL string, dir domain.MediaItem) error {
	return s.set(bucketDirectories, folderKey(account, serverURL), dir)
}

// === Folder listings ===

func (s *LibraryStore) GetFolder(account, serverURL string) ([]domain.MediaItem, bool) {
	var items []domain.MediaItem
	ok := s.get(bucketFolders, folderKey(account, serverURL), &items)
	return items, ok
}

func (s *LibraryStore) SaveFolder(account, serverURL string, items []domain.MediaItem) error {
	return s.set(bucketFolders, folderKey(account, serverURL), items)
}

// === Invalidation ===

// InvalidateFolder wipes a listing and every listing below it
func (s *LibraryStore) InvalidateFolder(account, serverURL string) {
	s.deletePrefix(bucketFolders, folderKey(account, serverURL))
}

// InvalidateAccount wipes cached listings for one account; positions are kept
func (s *LibraryStore) InvalidateAccount(account string) {
	prefix := "acct:" + account
	s.deletePrefix(bucketGroupfolders, prefix)
	s.deletePrefix(bucketDirectories, prefix+":")
	s.deletePrefix(bucketFolders, prefix+":")
}

func (s *LibraryStore) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string][]byte)
	s.mu.Unlock()

	if s.db == nil {
		return
	}

	s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			b := tx.Bucket(bucket)
			if b == nil {
				continue
			}
			c := b.Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
