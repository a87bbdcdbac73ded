package geocode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKey_Normalization(t *testing.T) {
	base := cacheKey("Zurich, Switzerland")

	assert.Equal(t, base, cacheKey("  zurich,   switzerland "))
	assert.Equal(t, base, cacheKey("Zürich, Switzerland"))
	assert.NotEqual(t, base, cacheKey("Geneva, Switzerland"))
	assert.Len(t, base, 64)
}

func TestMemoryCache_PutGet(t *testing.T) {
	c := newMemoryCache(10, time.Minute)

	_, ok := c.Get("k1")
	assert.False(t, ok)

	c.Put("k1", &Result{DisplayName: "Paris", Matched: true})
	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "Paris", got.DisplayName)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestMemoryCache_ReturnsCopy(t *testing.T) {
	c := newMemoryCache(10, time.Minute)
	c.Put("k1", &Result{DisplayName: "Paris", Matched: true})

	got, ok := c.Get("k1")
	require.True(t, ok)
	got.DisplayName = "mutated"

	again, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "Paris", again.DisplayName)
}

func TestMemoryCache_EvictsLRU(t *testing.T) {
	c := newMemoryCache(2, time.Minute)
	c.Put("a", &Result{DisplayName: "a"})
	c.Put("b", &Result{DisplayName: "b"})

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("c", &Result{DisplayName: "c"})

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := newMemoryCache(10, 10*time.Millisecond)
	c.Put("k1", &Result{DisplayName: "Paris"})

	_, ok := c.Get("k1")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k1")
	assert.False(t, ok)
}

func TestMemoryCache_UpdateExisting(t *testing.T) {
	c := newMemoryCache(2, time.Minute)
	c.Put("k1", &Result{DisplayName: "old"})
	c.Put("k1", &Result{DisplayName: "new"})

	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "new", got.DisplayName)
}
