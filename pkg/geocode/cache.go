package geocode

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips combining marks so "Zürich" and "Zurich" share a
// cache key.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// cacheKey returns SHA-256 hex of the normalized location for cache lookup.
func cacheKey(location string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(location), " "))
	if folded, _, err := transform.String(foldTransformer, normalized); err == nil {
		normalized = folded
	}
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// memoryCache is an in-process LRU cache with per-entry TTL. Both matches and
// non-matches are cached so repeated unknown locations skip the providers.
type memoryCache struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	entries    map[string]*list.Element
	order      *list.List // front = most recently used

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	key       string
	result    Result
	expiresAt time.Time
}

func newMemoryCache(maxEntries int, ttl time.Duration) *memoryCache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &memoryCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
	}
}

// Get returns a copy of the cached result for key, if present and unexpired.
func (c *memoryCache) Get(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.misses.Add(1)
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits.Add(1)
	result := entry.result
	return &result, true
}

// Put stores a result under key, evicting the least recently used entry when
// the cache is full.
func (c *memoryCache) Put(key string, r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.result = *r
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	elem := c.order.PushFront(&cacheEntry{key: key, result: *r, expiresAt: expiresAt})
	c.entries[key] = elem
}

// Stats returns cumulative hit and miss counts.
func (c *memoryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
