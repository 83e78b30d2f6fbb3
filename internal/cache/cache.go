package cache

import (
	"sync"
	"time"

	"fablink/internal/model"
)

// FileInfoCache keeps parsed job file metadata keyed by machine path.
// Entries expire after a TTL and the cache holds at most maxEntries of them,
// evicting the oldest first. A zero TTL disables expiry.
type FileInfoCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]entry

	// now is replaceable in tests.
	now func() time.Time
}

type entry struct {
	info    *model.ParsedFileInfo
	addedAt time.Time
}

// NewFileInfoCache returns an empty cache. maxEntries <= 0 means unbounded.
func NewFileInfoCache(ttl time.Duration, maxEntries int) *FileInfoCache {
	return &FileInfoCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]entry),
		now:        time.Now,
	}
}

// Get returns the cached info for filename, or false on a miss. Expired
// entries count as misses and are dropped.
func (c *FileInfoCache) Get(filename string) (*model.ParsedFileInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[filename]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.addedAt) >= c.ttl {
		delete(c.entries, filename)
		return nil, false
	}
	return e.info, true
}

// Set stores info for filename, evicting the oldest entry when full.
func (c *FileInfoCache) Set(filename string, info *model.ParsedFileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[filename]; !ok && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[filename] = entry{info: info, addedAt: c.now()}
}

func (c *FileInfoCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, e := range c.entries {
		if first || e.addedAt.Before(oldestAt) {
			oldestKey, oldestAt = key, e.addedAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Invalidate drops the entry for filename, if present.
func (c *FileInfoCache) Invalidate(filename string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, filename)
}

// Clear drops every entry.
func (c *FileInfoCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len returns the number of live entries, counting expired ones until they
// are touched.
func (c *FileInfoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
