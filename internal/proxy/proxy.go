// Package proxy serves remote media to the local player through an on-disk
// chunk cache, and keeps offline copies of fully downloaded items.
package proxy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mmcdole/kinoview/internal/domain"
)

// Config controls the proxy listener and cache layout
type Config struct {
	Addr       string        // Listen address, "127.0.0.1:0" picks a free port
	CacheDir   string        // Chunk cache root
	StorageDir string        // Offline copies root, empty disables them
	ChunkSize  int64         // Bytes per cached chunk
	MaxItems   int           // Items kept in the chunk cache
	URLTTL     time.Duration // Lifetime of signed stream URLs
}

// DefaultChunkSize is used when Config.ChunkSize is unset
const DefaultChunkSize = 2 << 20

// entry is the proxy's view of one registered item
type entry struct {
	item    domain.MediaItem
	key     string
	creds   domain.Credentials
	serving bool
	meta    itemMeta

	cancelReadAhead context.CancelFunc
	assembling      bool
	assembled       bool
}

// Proxy implements domain.ProxyService
type Proxy struct {
	cfg      Config
	logger   *slog.Logger
	creds    domain.Credentials
	signer   *signer
	cache    *chunkCache
	upstream *upstream

	mu      sync.Mutex
	entries map[string]*entry
	srv     *http.Server
	baseURL string
	closed  bool

	wg sync.WaitGroup // read-aheads and assemblies
}

// New creates a proxy. The listener starts lazily on first use.
func New(cfg Config, creds domain.Credentials, logger *slog.Logger) (*Proxy, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 16
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 24 * time.Hour
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "kinoview-cache")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s, err := newSigner()
	if err != nil {
		return nil, err
	}
	cache, err := newChunkCache(cfg.CacheDir, cfg.ChunkSize, cfg.MaxItems)
	if err != nil {
		return nil, fmt.Errorf("chunk cache: %w", err)
	}

	return &Proxy{
		cfg:      cfg,
		logger:   logger,
		creds:    creds,
		signer:   s,
		cache:    cache,
		upstream: &upstream{client: &http.Client{Timeout: 60 * time.Second}},
		entries:  make(map[string]*entry),
	}, nil
}

// itemKey identifies an item's cached bytes; a new etag yields a new key
func itemKey(item domain.MediaItem) string {
	h := sha256.Sum256([]byte(item.Account + "|" + item.ID + "|" + item.ETag))
	return hex.EncodeToString(h[:12])
}

// OfflinePath is where a fully downloaded copy of the item lives
func (p *Proxy) OfflinePath(item domain.MediaItem) string {
	if p.cfg.StorageDir == "" || item.ID == "" {
		return ""
	}
	return filepath.Join(p.cfg.StorageDir, item.ID, filepath.Base(item.FileName))
}

func (p *Proxy) hasOfflineCopy(item domain.MediaItem) (string, bool) {
	path := p.OfflinePath(item)
	if path == "" {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	if item.Size > 0 && info.Size() != item.Size {
		return "", false
	}
	return path, true
}

// ResolveURL returns the offline copy when one exists, else a signed proxy URL
func (p *Proxy) ResolveURL(ctx context.Context, item domain.MediaItem) (string, error) {
	if !item.IsPlayable() || item.RemoteURL() == "" {
		return "", fmt.Errorf("%s: %w", item.FileName, domain.ErrNotStreamable)
	}
	if path, ok := p.hasOfflineCopy(item); ok {
		return path, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureListenerLocked(); err != nil {
		return "", err
	}
	e := p.registerLocked(item)
	return p.signer.streamURL(p.baseURL, e.key, time.Now().Add(p.cfg.URLTTL)), nil
}

// StartServing marks the item as wanted and downloads missing chunks in the background
func (p *Proxy) StartServing(item domain.MediaItem, creds domain.Credentials) {
	if !item.IsPlayable() || item.RemoteURL() == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureListenerLocked(); err != nil {
		p.logger.Warn("proxy listener unavailable", "error", err)
		return
	}

	e := p.registerLocked(item)
	if !creds.IsZero() {
		e.creds = creds
	}
	if e.serving {
		return
	}
	e.serving = true

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelReadAhead = cancel
	p.wg.Add(1)
	go p.readAhead(ctx, e.key)

	p.logger.Debug("proxy serving", "item", item.FileName, "key", e.key)
}

// StopServing cancels the item's read-ahead and keeps an offline copy once complete
func (p *Proxy) StopServing(item domain.MediaItem) {
	p.mu.Lock()
	e, ok := p.entries[itemKey(item)]
	if !ok {
		p.mu.Unlock()
		return
	}
	e.serving = false
	if e.cancelReadAhead != nil {
		e.cancelReadAhead()
		e.cancelReadAhead = nil
	}
	closed := p.closed
	if !closed {
		p.wg.Add(1)
	}
	p.mu.Unlock()

	p.logger.Debug("proxy stopped serving", "item", item.FileName, "key", e.key)
	if closed {
		return
	}

	go func() {
		defer p.wg.Done()
		p.maybeAssemble(e.key)
	}()
}

// Close cancels read-aheads, stops the listener and waits for background work
func (p *Proxy) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, e := range p.entries {
		if e.cancelReadAhead != nil {
			e.cancelReadAhead()
			e.cancelReadAhead = nil
		}
		e.serving = false
	}
	srv := p.srv
	p.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Addr returns the listener address, empty before the first request
func (p *Proxy) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baseURL
}

// Serving reports whether the item is currently being served
func (p *Proxy) Serving(item domain.MediaItem) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[itemKey(item)]
	return ok && e.serving
}

func (p *Proxy) ensureListenerLocked() error {
	if p.closed {
		return domain.ErrProxyClosed
	}
	if p.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("proxy listen %s: %w", p.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           p.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.srv = srv
	p.baseURL = "http://" + ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("proxy serve", "error", err)
		}
	}()

	p.logger.Info("proxy listening", "addr", p.baseURL)
	return nil
}

func (p *Proxy) registerLocked(item domain.MediaItem) *entry {
	key := itemKey(item)
	if e, ok := p.entries[key]; ok {
		return e
	}
	p.dropStaleLocked(item)

	e := &entry{
		item:  item,
		key:   key,
		creds: p.creds,
		meta:  itemMeta{Size: item.Size, ContentType: item.ContentType},
	}
	if e.meta.Size <= 0 {
		e.meta.Size = -1
	}
	if cached, ok := p.cache.meta(key); ok && cached.Size > 0 {
		e.meta = cached
	}
	p.entries[key] = e
	return e
}

// dropStaleLocked forgets older versions of item; a changed etag makes
// their cached bytes useless
func (p *Proxy) dropStaleLocked(item domain.MediaItem) {
	for key, e := range p.entries {
		if !e.item.SameItem(item) || e.serving || e.assembling {
			continue
		}
		if e.cancelReadAhead != nil {
			e.cancelReadAhead()
			e.cancelReadAhead = nil
		}
		delete(p.entries, key)
		p.cache.remove(key)
		p.logger.Debug("dropped stale cache", "item", item.FileName, "key", key, "etag", e.item.ETag)
	}
}

func (p *Proxy) lookup(key string) (*entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	return e, ok
}

// resolveMeta returns size and content type, asking upstream when unknown
func (p *Proxy) resolveMeta(ctx context.Context, e *entry) (itemMeta, error) {
	p.mu.Lock()
	meta := e.meta
	creds := e.creds
	p.mu.Unlock()

	if meta.Size > 0 {
		if _, ok := p.cache.meta(e.key); !ok {
			if err := p.cache.setMeta(e.key, meta); err != nil {
				p.logger.Warn("proxy cache meta", "key", e.key, "error", err)
			}
		}
		return meta, nil
	}

	remote, err := p.upstream.stat(ctx, e.item.RemoteURL(), creds)
	if err != nil {
		return itemMeta{}, err
	}
	if remote.ContentType == "" {
		remote.ContentType = meta.ContentType
	}

	p.mu.Lock()
	e.meta = remote
	p.mu.Unlock()

	if err := p.cache.setMeta(e.key, remote); err != nil {
		p.logger.Warn("proxy cache meta", "key", e.key, "error", err)
	}
	return remote, nil
}

// chunk returns chunk idx from the cache, fetching it upstream on a miss
func (p *Proxy) chunk(ctx context.Context, e *entry, size, idx int64) ([]byte, error) {
	if data, ok := p.cache.read(e.key, idx); ok {
		return data, nil
	}

	p.mu.Lock()
	creds := e.creds
	p.mu.Unlock()

	start := idx * p.cfg.ChunkSize
	end := start + p.cfg.ChunkSize - 1
	if end >= size {
		end = size - 1
	}

	data, err := p.upstream.fetch(ctx, e.item.RemoteURL(), creds, start, end)
	if err != nil {
		return nil, err
	}
	if err := p.cache.write(e.key, idx, data); err != nil {
		p.logger.Warn("proxy cache write", "key", e.key, "chunk", idx, "error", err)
	}
	return data, nil
}

// readAhead downloads every missing chunk in order until cancelled
func (p *Proxy) readAhead(ctx context.Context, key string) {
	defer p.wg.Done()

	e, ok := p.lookup(key)
	if !ok {
		return
	}
	meta, err := p.resolveMeta(ctx, e)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("proxy read-ahead stat", "key", key, "error", err)
		}
		return
	}

	for idx := int64(0); idx < p.cache.chunkCount(meta.Size); idx++ {
		if ctx.Err() != nil {
			return
		}
		if p.cache.has(key, idx) {
			continue
		}
		if _, err := p.chunk(ctx, e, meta.Size, idx); err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("proxy read-ahead", "key", key, "chunk", idx, "error", err)
			}
			return
		}
	}

	p.logger.Debug("proxy read-ahead complete", "key", key)
	p.maybeAssemble(key)
}

// maybeAssemble writes the offline copy once every chunk is present
func (p *Proxy) maybeAssemble(key string) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok || e.assembled || e.assembling || p.cfg.StorageDir == "" || e.meta.Size <= 0 {
		p.mu.Unlock()
		return
	}
	size := e.meta.Size
	item := e.item
	e.assembling = true
	p.mu.Unlock()

	var err error
	dst := p.OfflinePath(item)
	complete := p.cache.complete(key, size)
	if complete {
		err = p.cache.assemble(key, size, dst)
	}

	p.mu.Lock()
	e.assembling = false
	e.assembled = complete && err == nil
	p.mu.Unlock()

	if !complete {
		return
	}
	if err != nil {
		p.logger.Warn("proxy offline copy", "item", item.FileName, "error", err)
		return
	}
	p.logger.Info("proxy offline copy ready", "item", item.FileName, "path", dst)
}
