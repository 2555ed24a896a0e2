package storage

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultURLCacheSize = 4096

// urlCacheEntry pairs a generated URL with its absolute expiration instant.
type urlCacheEntry struct {
	url       string
	expiresAt time.Time
}

// urlCache is a bounded LRU of generated URLs. Expired entries are lazily
// evicted on read; the LRU bound handles everything else. Concurrent use is
// safe; simultaneous inserts for the same key are last-writer-wins, which is
// fine because entries are idempotent derivations of their inputs.
type urlCache struct {
	entries *lru.Cache[string, urlCacheEntry]
}

func newURLCache(size int) *urlCache {
	if size <= 0 {
		size = defaultURLCacheSize
	}
	entries, err := lru.New[string, urlCacheEntry](size)
	if err != nil {
		// lru.New only fails on a non-positive size, which is guarded above.
		entries, _ = lru.New[string, urlCacheEntry](defaultURLCacheSize)
	}
	return &urlCache{entries: entries}
}

// Get returns the cached URL for key if it has not expired at instant now.
func (c *urlCache) Get(key string, now time.Time) (string, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return "", false
	}
	if !now.Before(entry.expiresAt) {
		c.entries.Remove(key)
		return "", false
	}
	return entry.url, true
}

// Put stores url under key until expiresAt.
func (c *urlCache) Put(key, url string, expiresAt time.Time) {
	c.entries.Add(key, urlCacheEntry{url: url, expiresAt: expiresAt})
}

// InvalidatePrefix drops every entry whose cache key starts with prefix,
// returning how many were removed. Used when an object is deleted so stale
// URLs are not served for its key.
func (c *urlCache) InvalidatePrefix(prefix string) int {
	removed := 0
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
			removed++
		}
	}
	return removed
}

func (c *urlCache) Len() int { return c.entries.Len() }

func (c *urlCache) Purge() { c.entries.Purge() }

// urlCacheKey canonicalizes the inputs that make a generated URL unique.
// Two requests differing in any component must never share an entry.
func urlCacheKey(key string, private bool, expiresIn time.Duration, method, disposition string, t Transform) string {
	return fmt.Sprintf("%s|%t|%d|%s|%s|%dx%d-q%d-%s",
		key, private, int64(expiresIn/time.Second), method, disposition,
		t.Width, t.Height, t.Quality, t.Format)
}
