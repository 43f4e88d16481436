package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// CacheEntry is one memoized detection plus the file fingerprint recorded
// at write time. The entry is valid only while the live file's size and
// mtime still match exactly.
type CacheEntry struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	Model     string    `json:"model"`
	Landmarks Landmarks `json:"landmarks"`
}

// Cache memoizes detector output keyed by (absolute path, model). Parallel
// workers share one cache, so every read and write path holds the mutex.
// Caching is an optimization only: load failures discard the on-disk state
// and start empty.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]CacheEntry
	dirty   bool
}

// NewCache opens (or creates) a detection cache backed by a JSON file.
func NewCache(path string) *Cache {
	c := &Cache{
		path:    path,
		entries: make(map[string]CacheEntry),
	}
	c.load()
	return c
}

func (c *Cache) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var entries map[string]CacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// Corrupt cache file: start empty rather than failing the run.
		return
	}
	c.entries = entries
}

func cacheKey(path, model string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return strings.ToLower(abs) + "|" + strings.ToLower(model)
}

// Get returns the cached landmarks for (path, model), or nil on a miss.
// An entry whose recorded fingerprint no longer matches the live file is
// evicted and reported as a miss.
func (c *Cache) Get(path, model string) *Landmarks {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(path, model)
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() != entry.Size || !info.ModTime().Equal(entry.ModTime) {
		delete(c.entries, key)
		c.dirty = true
		return nil
	}

	lm := entry.Landmarks
	return &lm
}

// Put stores landmarks for (path, model) with the file's current
// fingerprint. Files that cannot be stat'ed are not cached.
func (c *Cache) Put(path string, landmarks Landmarks, model string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(path, model)] = CacheEntry{
		Path:      path,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Model:     model,
		Landmarks: landmarks,
	}
	c.dirty = true
}

// Save serializes the table to disk, but only when it changed since the
// last save.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty || c.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}

	c.dirty = false
	return nil
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.dirty = true
	}
	c.entries = make(map[string]CacheEntry)
}

// Stats returns the total entry count and how many entries still match
// their live file fingerprint.
func (c *Cache) Stats() (total, valid int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total = len(c.entries)
	for _, entry := range c.entries {
		info, err := os.Stat(entry.Path)
		if err == nil && info.Size() == entry.Size && info.ModTime().Equal(entry.ModTime) {
			valid++
		}
	}
	return total, valid
}

// CachedDetector wraps a Detector with cache lookups.
type CachedDetector struct {
	inner Detector
	cache *Cache
}

func NewCachedDetector(inner Detector, cache *Cache) *CachedDetector {
	return &CachedDetector{inner: inner, cache: cache}
}

// SaveCache persists the backing cache to disk.
func (d *CachedDetector) SaveCache() error { return d.cache.Save() }

func (d *CachedDetector) Model() string                     { return d.inner.Model() }
func (d *CachedDetector) Local() bool                       { return d.inner.Local() }
func (d *CachedDetector) Available() bool                   { return d.inner.Available() }
func (d *CachedDetector) Init() error                       { return d.inner.Init() }
func (d *CachedDetector) Release(ctx context.Context) error { return d.inner.Release(ctx) }

func (d *CachedDetector) Detect(ctx context.Context, imagePath string) (Landmarks, error) {
	if cached := d.cache.Get(imagePath, d.inner.Model()); cached != nil {
		return *cached, nil
	}

	lm, err := d.inner.Detect(ctx, imagePath)
	if err != nil {
		return lm, err
	}

	d.cache.Put(imagePath, lm, d.inner.Model())
	return lm, nil
}

// DetectWithTrials preserves the wrapped detector's trial log on a cache
// miss. A cache hit ran no detectors, so it carries no trials.
func (d *CachedDetector) DetectWithTrials(ctx context.Context, imagePath string) (Landmarks, []Trial, error) {
	if cached := d.cache.Get(imagePath, d.inner.Model()); cached != nil {
		return *cached, nil, nil
	}

	td, ok := d.inner.(TrialDetector)
	if !ok {
		lm, err := d.Detect(ctx, imagePath)
		return lm, nil, err
	}

	lm, trials, err := td.DetectWithTrials(ctx, imagePath)
	if err != nil {
		return lm, trials, err
	}

	d.cache.Put(imagePath, lm, d.inner.Model())
	return lm, trials, err
}
