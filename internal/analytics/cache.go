package analytics

import (
	"fmt"
	"sync"
	"time"
)

// CacheKey identifies one computed chart.
type CacheKey struct {
	Chart   ChartType
	Config  string // stable serialization of chart config and filter
	Version uint64 // trade store data version
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s|%s|v%d", k.Chart, k.Config, k.Version)
}

type cacheEntry struct {
	series     ChartSeries
	size       int64
	createdAt  time.Time
	lastAccess time.Time
	hits       uint64
}

// CacheStats reports diagnostic counters. They never influence lookups.
type CacheStats struct {
	TotalEntries      int           `json:"total_entries"`
	Hits              uint64        `json:"hits"`
	Misses            uint64        `json:"misses"`
	HitRate           float64       `json:"hit_rate"` // percent
	TotalMemoryUsage  int64         `json:"total_memory_usage"`
	AverageAccessTime time.Duration `json:"average_access_time"`
}

// Cache memoizes chart series. Entries never expire by age; callers invalidate
// wholesale when the underlying trades change. maxEntries > 0 bounds the size by
// evicting the least recently accessed entry.
type Cache struct {
	mu         sync.Mutex
	entries    map[CacheKey]*cacheEntry
	maxEntries int

	hits, misses uint64
	lookups      uint64
	lookupTime   time.Duration
	now          func() time.Time
}

// NewCache creates an empty cache.
func NewCache(maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[CacheKey]*cacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of the cached series for key.
func (c *Cache) Get(key CacheKey) (ChartSeries, bool) {
	start := time.Now()
	c.mu.Lock()
	defer func() {
		c.lookups++
		c.lookupTime += time.Since(start)
		c.mu.Unlock()
	}()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return ChartSeries{}, false
	}
	c.hits++
	e.hits++
	e.lastAccess = c.now()
	return e.series.Clone(), true
}

// Set stores a copy of series under key.
func (c *Cache) Set(key CacheKey, series ChartSeries) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[key] = &cacheEntry{
		series:     series.Clone(),
		size:       series.sizeBytes() + int64(len(key.Config)),
		createdAt:  now,
		lastAccess: now,
	}
}

func (c *Cache) evictOldest() {
	var oldestKey CacheKey
	var oldest *cacheEntry
	for k, e := range c.entries {
		if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
			oldestKey, oldest = k, e
		}
	}
	if oldest != nil {
		delete(c.entries, oldestKey)
	}
}

// InvalidateAll drops every entry. Counters are kept.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[CacheKey]*cacheEntry)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		TotalEntries: len(c.entries),
		Hits:         c.hits,
		Misses:       c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = 100 * float64(c.hits) / float64(total)
	}
	for _, e := range c.entries {
		stats.TotalMemoryUsage += e.size
	}
	if c.lookups > 0 {
		stats.AverageAccessTime = c.lookupTime / time.Duration(c.lookups)
	}
	return stats
}
