// Package addresscache implements the bounded, concurrent address score
// cache the pre-fetch phase consults before writing an address to storage.
// Entries carry an integer score that is boosted on every repeat sighting
// and decayed on every maintenance pass; the cache never grows past a
// configured ceiling, falling back to LRU eviction and, under memory
// pressure, an aggressive shrink.
package addresscache

import (
	"container/list"
	"runtime"
	"sync"
	"sync/atomic"
)

// Config holds the tunables the cache needs at construction time,
// mirroring the AddressCacheProperties defaults.
type Config struct {
	MaxSize             int
	DefaultValue        int
	DecayAmount         int
	LRUEvictionEnabled  bool
	BatchEvictionSize   int
	MemoryCheckEnabled  bool
	TargetMemoryPercent int
	MinCacheSize        int
}

type entry struct {
	score    int
	lruElem  *list.Element
}

// Cache is a bounded, score-decaying address cache. All mutating
// operations hold mu; read-mostly lookups still take the lock since the
// score map and LRU list must move together, but the critical sections
// are small compared to the RPC and database work the batch processor
// does around them.
type Cache struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List // front = most recently touched

	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	skippedDbOps    atomic.Int64
	evictionsTotal  atomic.Int64
	decayPassesRun  atomic.Int64
}

// New builds an empty cache from cfg.
func New(cfg Config) *Cache {
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*entry),
		lru:     list.New(),
	}
}

// CheckAndBoost looks up address. On a hit it adds DefaultValue to the
// existing score, moves the entry to the front of the LRU list, and
// reports that the caller may skip writing this address to storage. On a
// miss it reports nothing was found, leaves the entries untouched and
// only counts the miss.
func (c *Cache) CheckAndBoost(address string) (hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[address]
	if !ok {
		c.cacheMisses.Add(1)
		return false
	}

	e.score += c.cfg.DefaultValue
	c.lru.MoveToFront(e.lruElem)
	c.cacheHits.Add(1)
	c.skippedDbOps.Add(1)
	return true
}

// AddIfAbsent inserts address at DefaultValue if it is not already
// present and there is room. If the cache is at capacity it first runs a
// maintenance pass (decay, then LRU/memory eviction) and retries once;
// if the cache is still full after maintenance, the insert is skipped so
// existing entries are never displaced by a single miss.
func (c *Cache) AddIfAbsent(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addIfAbsentLocked(address)
}

func (c *Cache) addIfAbsentLocked(address string) {
	if _, ok := c.entries[address]; ok {
		return
	}

	if len(c.entries) >= c.cfg.MaxSize {
		c.runMaintenanceLocked()
		if len(c.entries) >= c.cfg.MaxSize {
			return
		}
	}

	elem := c.lru.PushFront(address)
	c.entries[address] = &entry{score: c.cfg.DefaultValue, lruElem: elem}
}

// AddAll inserts every address in addresses that is not already present,
// holding the lock once for the whole batch rather than once per address.
func (c *Cache) AddAll(addresses []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, addr := range addresses {
		c.addIfAbsentLocked(addr)
	}
}

// DecayAndEvict runs one maintenance pass: subtract DecayAmount from
// every entry's score, drop any entry whose score falls to zero or
// below, then (if still at capacity) evict the oldest BatchEvictionSize
// entries, then (if memory pressure is detected) shrink to 80% of the
// current size, floored at MinCacheSize.
func (c *Cache) DecayAndEvict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runMaintenanceLocked()
}

func (c *Cache) runMaintenanceLocked() {
	c.decayPassesRun.Add(1)
	c.decayLocked()

	if c.cfg.LRUEvictionEnabled && len(c.entries) >= c.cfg.MaxSize {
		toEvict := len(c.entries) - c.cfg.MaxSize + c.cfg.BatchEvictionSize
		c.evictOldestLocked(toEvict)
	}

	if c.cfg.MemoryCheckEnabled {
		c.evictForMemoryPressureLocked()
	}
}

func (c *Cache) decayLocked() {
	for addr, e := range c.entries {
		e.score -= c.cfg.DecayAmount
		if e.score <= 0 {
			c.lru.Remove(e.lruElem)
			delete(c.entries, addr)
		}
	}
}

func (c *Cache) evictOldestLocked(count int) {
	if count <= 0 {
		return
	}
	for i := 0; i < count; i++ {
		back := c.lru.Back()
		if back == nil {
			return
		}
		addr := back.Value.(string)
		c.lru.Remove(back)
		delete(c.entries, addr)
		c.evictionsTotal.Add(1)
	}
}

// evictForMemoryPressureLocked mirrors the source's Runtime-heap check:
// if in-use heap exceeds TargetMemoryPercent of the memory the Go runtime
// has obtained from the OS (HeapInuse against MemStats.Sys) and the cache still holds more than MinCacheSize entries, shrink it to
// 80% of its current size, never below MinCacheSize.
func (c *Cache) evictForMemoryPressureLocked() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	if mem.Sys == 0 {
		return
	}
	usedPercent := int(mem.HeapInuse * 100 / mem.Sys)
	if usedPercent <= c.cfg.TargetMemoryPercent {
		return
	}

	size := len(c.entries)
	if size <= c.cfg.MinCacheSize {
		return
	}

	target := size * 80 / 100
	if target < c.cfg.MinCacheSize {
		target = c.cfg.MinCacheSize
	}
	c.evictOldestLocked(size - target)
}

// Stats is a point-in-time snapshot of cache counters and occupancy.
type Stats struct {
	Size           int
	MaxSize        int
	CacheHits      int64
	CacheMisses    int64
	SkippedDbOps   int64
	EvictionsTotal int64
	DecayPassesRun int64
	HitRate        float64
}

// StatsSnapshot reports the cache's current counters and size.
func (c *Cache) StatsSnapshot() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()

	hits := c.cacheHits.Load()
	misses := c.cacheMisses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return Stats{
		Size:           size,
		MaxSize:        c.cfg.MaxSize,
		CacheHits:      hits,
		CacheMisses:    misses,
		SkippedDbOps:   c.skippedDbOps.Load(),
		EvictionsTotal: c.evictionsTotal.Load(),
		DecayPassesRun: c.decayPassesRun.Load(),
		HitRate:        hitRate,
	}
}

// ResetBatchCounters zeroes the per-batch counters (hits, misses,
// skipped writes) without touching the cache's contents, so the batch
// processor can report per-run figures alongside the cache's lifetime
// eviction/decay counts.
func (c *Cache) ResetBatchCounters() {
	c.cacheHits.Store(0)
	c.cacheMisses.Store(0)
	c.skippedDbOps.Store(0)
}

// Len returns the current number of entries held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
