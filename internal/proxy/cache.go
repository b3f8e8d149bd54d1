package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

const metaFile = "meta.json"

// itemMeta describes the upstream file a cache directory belongs to
type itemMeta struct {
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	ChunkSize   int64  `json:"chunk_size"`
}

// chunkCache stores fixed-size chunks per item under dir/<key>/<index>.
// Items are evicted least recently used first once maxItems is exceeded.
type chunkCache struct {
	dir       string
	chunkSize int64
	items     *lru.Cache[string, struct{}]
}

func newChunkCache(dir string, chunkSize int64, maxItems int) (*chunkCache, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if maxItems <= 0 {
		maxItems = 1
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	c := &chunkCache{dir: dir, chunkSize: chunkSize}
	items, err := lru.NewWithEvict(maxItems, func(key string, _ struct{}) {
		_ = os.RemoveAll(c.itemDir(key))
	})
	if err != nil {
		return nil, err
	}
	c.items = items

	c.restore()
	return c, nil
}

// restore re-registers item directories left by a previous run, oldest first
func (c *chunkCache) restore() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}

	type aged struct {
		key string
		mod int64
	}
	var found []aged
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, aged{key: e.Name(), mod: info.ModTime().UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod < found[j].mod })

	for _, f := range found {
		meta, ok := c.meta(f.key)
		if !ok || meta.ChunkSize != c.chunkSize {
			// Chunk layout changed, the data is unusable
			_ = os.RemoveAll(c.itemDir(f.key))
			continue
		}
		c.items.Add(f.key, struct{}{})
	}
}

func (c *chunkCache) itemDir(key string) string {
	return filepath.Join(c.dir, key)
}

func (c *chunkCache) chunkPath(key string, idx int64) string {
	return filepath.Join(c.itemDir(key), strconv.FormatInt(idx, 10))
}

// touch marks the item as recently used and makes sure its directory exists
func (c *chunkCache) touch(key string) error {
	if err := os.MkdirAll(c.itemDir(key), 0755); err != nil {
		return err
	}
	c.items.Add(key, struct{}{})
	return nil
}

func (c *chunkCache) meta(key string) (itemMeta, bool) {
	var m itemMeta
	data, err := os.ReadFile(filepath.Join(c.itemDir(key), metaFile))
	if err != nil {
		return m, false
	}
	if json.Unmarshal(data, &m) != nil {
		return m, false
	}
	return m, true
}

func (c *chunkCache) setMeta(key string, m itemMeta) error {
	if err := c.touch(key); err != nil {
		return err
	}
	m.ChunkSize = c.chunkSize
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(c.itemDir(key), metaFile), data)
}

// read returns the cached chunk, or false on a miss
func (c *chunkCache) read(key string, idx int64) ([]byte, bool) {
	data, err := os.ReadFile(c.chunkPath(key, idx))
	if err != nil {
		return nil, false
	}
	c.items.Get(key)
	return data, true
}

func (c *chunkCache) has(key string, idx int64) bool {
	_, err := os.Stat(c.chunkPath(key, idx))
	return err == nil
}

func (c *chunkCache) write(key string, idx int64, data []byte) error {
	if err := c.touch(key); err != nil {
		return err
	}
	return writeAtomic(c.chunkPath(key, idx), data)
}

// chunkCount returns how many chunks a file of size bytes has
func (c *chunkCache) chunkCount(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + c.chunkSize - 1) / c.chunkSize
}

// complete reports whether every chunk of a size-byte file is cached
func (c *chunkCache) complete(key string, size int64) bool {
	n := c.chunkCount(size)
	if n == 0 {
		return false
	}
	for i := int64(0); i < n; i++ {
		if !c.has(key, i) {
			return false
		}
	}
	return true
}

// assemble concatenates every chunk of the item into dst
func (c *chunkCache) assemble(key string, size int64, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".assemble-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	var written int64
	for i := int64(0); i < c.chunkCount(size); i++ {
		f, err := os.Open(c.chunkPath(key, i))
		if err != nil {
			tmp.Close()
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		n, err := io.Copy(tmp, f)
		f.Close()
		if err != nil {
			tmp.Close()
			return err
		}
		written += n
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if written != size {
		return fmt.Errorf("assembled %d bytes, want %d", written, size)
	}
	return os.Rename(tmp.Name(), dst)
}

// remove drops an item from the cache
func (c *chunkCache) remove(key string) {
	if !c.items.Remove(key) {
		_ = os.RemoveAll(c.itemDir(key))
	}
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		if errors.Is(err, fs.ErrNotExist) {
			// Directory evicted underneath us
			return nil
		}
		return err
	}
	return nil
}
