package planner

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/saferoute/internal/model"
)

// Key identifies a request for deduplication: origin and destination
// rounded to 6 decimal places. The selected role is not part of it.
type Key string

// KeyFor builds the cache key for an origin/destination pair.
func KeyFor(origin, destination model.LatLng) Key {
	return Key(fmt.Sprintf("%s>%s", round6(origin), round6(destination)))
}

func round6(p model.LatLng) model.LatLng {
	return model.LatLng{
		Lat: math.Round(p.Lat*1e6) / 1e6,
		Lng: math.Round(p.Lng*1e6) / 1e6,
	}
}

// ComparisonCache is a concurrent-safe LRU of comparisons with TTL.
// Expired entries are kept until evicted so they can be served as stale.
type ComparisonCache struct {
	mu         sync.Mutex
	entries    map[Key]*cacheEntry
	order      []Key // front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
	stale      atomic.Int64

	nowFunc func() time.Time
}

type cacheEntry struct {
	comparison *model.RouteComparison
	generation int64
	createdAt  time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	StaleHits  int64   `json:"stale_hits"`
	HitRate    float64 `json:"hit_rate"`
}

// NewComparisonCache creates a cache with the given capacity and TTL.
func NewComparisonCache(maxEntries int, ttl time.Duration) *ComparisonCache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &ComparisonCache{
		entries:    make(map[Key]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		nowFunc:    time.Now,
	}
}

// Get returns a fresh comparison computed against the given grid generation.
func (c *ComparisonCache) Get(key Key, generation int64) (*model.RouteComparison, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.generation != generation || c.nowFunc().Sub(e.createdAt) > c.ttl {
		c.misses.Add(1)
		return nil, false
	}
	c.touch(key)
	c.hits.Add(1)
	return e.comparison.Clone(), true
}

// Stale returns whatever comparison is cached for key, regardless of age or
// generation, marked Stale.
func (c *ComparisonCache) Stale(key Key) (*model.RouteComparison, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.stale.Add(1)
	out := e.comparison.Clone()
	out.Stale = true
	return out, true
}

// Put stores a comparison, evicting the least recently used entry if full.
func (c *ComparisonCache) Put(key Key, generation int64, cmp *model.RouteComparison) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{comparison: cmp.Clone(), generation: generation, createdAt: c.nowFunc()}
	if _, ok := c.entries[key]; ok {
		c.entries[key] = entry
		c.touch(key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
}

// Len returns the number of cached entries.
func (c *ComparisonCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *ComparisonCache) Stats() CacheStats {
	entries := c.Len()
	hits, misses := c.hits.Load(), c.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		StaleHits:  c.stale.Load(),
		HitRate:    rate,
	}
}

// touch moves key to the back of the LRU order. Callers hold mu.
func (c *ComparisonCache) touch(key Key) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}
