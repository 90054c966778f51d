package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/goccy/go-json"
)

const (
	indexFile     = "cache_index.json"
	tileExt       = ".tile"
	indexDebounce = 500 * time.Millisecond
)

// PersistentTileCache keeps fetched tile bytes on disk across runs.
// Files live at {baseDir}/{hash[:2]}/{hash}.tile where hash is the sha256 of
// the resource reference; the index is {baseDir}/cache_index.json.
type PersistentTileCache struct {
	baseDir   string
	maxSize   int64 // Maximum cache size in bytes
	currSize  int64 // Current cache size (atomic)
	ttl       time.Duration
	mu        sync.RWMutex
	metadata  map[string]*TileMetadata // keyed by hash
	evictChan chan struct{}
	stopChan  chan struct{}
	closeOnce sync.Once

	saveMu  sync.Mutex
	closed  bool // guarded by saveMu
	persist func(func())

	hits   atomic.Int64
	misses atomic.Int64
}

// TileMetadata stores information about a cached tile
type TileMetadata struct {
	Hash       string    `json:"hash"`
	Ref        string    `json:"ref,omitempty"` // empty for entries recovered by a directory scan
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`
}

// DiskStats describes the on-disk cache
type DiskStats struct {
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"sizeBytes"`
	MaxBytes  int64  `json:"maxBytes"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Path      string `json:"path"`
}

// NewPersistentTileCache creates a disk cache under baseDir
func NewPersistentTileCache(baseDir string, maxSizeMB int, ttlDays int) (*PersistentTileCache, error) {
	if maxSizeMB <= 0 {
		return nil, fmt.Errorf("cache size must be positive: %d MB", maxSizeMB)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache := &PersistentTileCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		ttl:       time.Duration(ttlDays) * 24 * time.Hour,
		metadata:  make(map[string]*TileMetadata),
		evictChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		persist:   debounce.New(indexDebounce),
	}

	if err := cache.loadMetadata(); err != nil {
		// index missing or unreadable, recover what is on disk
		if err := cache.rebuildMetadata(); err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}

	go cache.maintenanceWorker()

	return cache, nil
}

func hashRef(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:])
}

func (c *PersistentTileCache) filePath(hash string) string {
	return filepath.Join(c.baseDir, hash[:2], hash+tileExt)
}

// Get returns the cached bytes for ref
func (c *PersistentTileCache) Get(ref string) ([]byte, bool) {
	hash := hashRef(ref)

	c.mu.RLock()
	meta, exists := c.metadata[hash]
	c.mu.RUnlock()

	if !exists {
		c.misses.Add(1)
		return nil, false
	}

	if c.ttl > 0 && time.Since(meta.CreateTime) > c.ttl {
		c.evictTile(hash)
		c.misses.Add(1)
		return nil, false
	}

	data, err := os.ReadFile(c.filePath(hash))
	if err != nil {
		c.evictTile(hash)
		c.misses.Add(1)
		return nil, false
	}

	c.mu.Lock()
	meta.AccessTime = time.Now()
	if meta.Ref == "" {
		meta.Ref = ref
	}
	c.mu.Unlock()

	c.scheduleSave()
	c.hits.Add(1)
	return data, true
}

// Set stores data for ref
func (c *PersistentTileCache) Set(ref string, data []byte) error {
	hash := hashRef(ref)
	path := c.filePath(hash)
	size := int64(len(data))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	c.mu.Lock()
	if old, exists := c.metadata[hash]; exists {
		atomic.AddInt64(&c.currSize, -old.Size)
	}
	c.metadata[hash] = &TileMetadata{
		Hash:       hash,
		Ref:        ref,
		Size:       size,
		AccessTime: now,
		CreateTime: now,
	}
	c.mu.Unlock()

	if atomic.AddInt64(&c.currSize, size) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default:
		}
	}

	c.scheduleSave()
	return nil
}

func (c *PersistentTileCache) evictTile(hash string) {
	c.mu.Lock()
	meta, ok := c.metadata[hash]
	if ok {
		os.Remove(c.filePath(hash)) // Best effort cleanup
		delete(c.metadata, hash)
		atomic.AddInt64(&c.currSize, -meta.Size)
	}
	c.mu.Unlock()

	if ok {
		c.scheduleSave()
	}
}

func (c *PersistentTileCache) maintenanceWorker() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.evictChan:
			c.evictOldTiles()
		case <-ticker.C:
			c.evictExpiredTiles()
		case <-c.stopChan:
			return
		}
	}
}

// evictOldTiles removes least recently used tiles until the cache is at 80% of its limit
func (c *PersistentTileCache) evictOldTiles() {
	c.mu.Lock()

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		c.mu.Unlock()
		return
	}
	targetSize := c.maxSize * 8 / 10

	entries := make([]*TileMetadata, 0, len(c.metadata))
	for _, meta := range c.metadata {
		entries = append(entries, meta)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	evicted := 0
	for _, meta := range entries {
		if currSize <= targetSize {
			break
		}
		os.Remove(c.filePath(meta.Hash))
		delete(c.metadata, meta.Hash)
		atomic.AddInt64(&c.currSize, -meta.Size)
		currSize -= meta.Size
		evicted++
	}
	c.mu.Unlock()

	log.Printf("[TileCache] Evicted %d tiles from disk cache", evicted)
	c.scheduleSave()
}

func (c *PersistentTileCache) evictExpiredTiles() {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	now := time.Now()
	expired := 0
	for hash, meta := range c.metadata {
		if now.Sub(meta.CreateTime) > c.ttl {
			os.Remove(c.filePath(hash))
			delete(c.metadata, hash)
			atomic.AddInt64(&c.currSize, -meta.Size)
			expired++
		}
	}
	c.mu.Unlock()

	if expired > 0 {
		c.scheduleSave()
	}
}

func (c *PersistentTileCache) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(c.baseDir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("metadata file not found")
		}
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata map[string]*TileMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata == nil {
		metadata = make(map[string]*TileMetadata)
	}

	var totalSize int64
	for _, meta := range metadata {
		totalSize += meta.Size
	}

	c.mu.Lock()
	c.metadata = metadata
	c.mu.Unlock()
	atomic.StoreInt64(&c.currSize, totalSize)

	return nil
}

func (c *PersistentTileCache) scheduleSave() {
	c.persist(func() {
		if err := c.saveMetadata(); err != nil {
			log.Printf("[TileCache] Failed to save cache index: %v", err)
		}
	})
}

// saveMetadata writes the index unless the cache is closed
func (c *PersistentTileCache) saveMetadata() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	if c.closed {
		return nil
	}
	return c.writeIndexLocked()
}

// writeIndexLocked writes the index through a temp file and rename. Caller holds saveMu.
func (c *PersistentTileCache) writeIndexLocked() error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.metadata, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	metaPath := filepath.Join(c.baseDir, indexFile)
	tempPath := metaPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tempPath, metaPath); err != nil {
		return fmt.Errorf("failed to rename metadata file: %w", err)
	}
	return nil
}

// rebuildMetadata rebuilds the index by scanning the cache directory. Refs
// are unknown until the next Get for them.
func (c *PersistentTileCache) rebuildMetadata() error {
	metadata := make(map[string]*TileMetadata)
	var totalSize int64

	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != tileExt {
			return nil
		}
		hash := strings.TrimSuffix(filepath.Base(path), tileExt)
		if len(hash) != sha256.Size*2 || path != c.filePath(hash) {
			return nil
		}
		metadata[hash] = &TileMetadata{
			Hash:       hash,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}

	c.mu.Lock()
	c.metadata = metadata
	c.mu.Unlock()
	atomic.StoreInt64(&c.currSize, totalSize)

	return c.saveMetadata()
}

// Stats returns cache statistics
func (c *PersistentTileCache) Stats() DiskStats {
	c.mu.RLock()
	entries := len(c.metadata)
	c.mu.RUnlock()

	return DiskStats{
		Entries:   entries,
		SizeBytes: atomic.LoadInt64(&c.currSize),
		MaxBytes:  c.maxSize,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Path:      c.baseDir,
	}
}

// Clear removes all cached tiles
func (c *PersistentTileCache) Clear() error {
	c.mu.Lock()
	for hash := range c.metadata {
		os.Remove(c.filePath(hash))
	}
	c.metadata = make(map[string]*TileMetadata)
	atomic.StoreInt64(&c.currSize, 0)
	c.mu.Unlock()

	return c.saveMetadata()
}

// Close stops background maintenance and flushes the index
func (c *PersistentTileCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopChan)

		c.saveMu.Lock()
		err = c.writeIndexLocked()
		c.closed = true
		c.saveMu.Unlock()
	})
	return err
}

// GetCachePath returns the base directory of the cache
func (c *PersistentTileCache) GetCachePath() string {
	return c.baseDir
}
