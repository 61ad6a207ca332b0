package addresscache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MaxSize:             5,
		DefaultValue:        50,
		DecayAmount:         2,
		LRUEvictionEnabled:  true,
		BatchEvictionSize:   2,
		MemoryCheckEnabled:  false,
		TargetMemoryPercent: 80,
		MinCacheSize:        1,
	}
}

func TestCheckAndBoost_MissThenHit(t *testing.T) {
	c := New(testConfig())

	require.False(t, c.CheckAndBoost("0xabc"))

	c.AddIfAbsent("0xabc")
	require.True(t, c.CheckAndBoost("0xabc"))

	stats := c.StatsSnapshot()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(1), stats.SkippedDbOps)
}

func TestAddIfAbsent_DoesNotDuplicate(t *testing.T) {
	c := New(testConfig())
	c.AddIfAbsent("0xabc")
	c.AddIfAbsent("0xabc")
	assert.Equal(t, 1, c.Len())
}

func TestDecayAndEvict_RemovesZeroedEntries(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultValue = 2
	cfg.DecayAmount = 2
	c := New(cfg)

	c.AddIfAbsent("0xabc")
	assert.Equal(t, 1, c.Len())

	c.DecayAndEvict()
	assert.Equal(t, 0, c.Len())
}

func TestAddIfAbsent_FullCacheRunsMaintenanceBeforeInsert(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 3
	cfg.DefaultValue = 50
	cfg.DecayAmount = 2
	cfg.BatchEvictionSize = 2
	c := New(cfg)

	c.AddIfAbsent("a")
	c.AddIfAbsent("b")
	c.AddIfAbsent("c")
	require.Equal(t, 3, c.Len())

	// Cache is full; a new address triggers maintenance. Decay alone
	// (50 -> 48) does not remove anything, so the LRU batch-eviction step
	// runs and frees room, after which "d" is inserted.
	c.AddIfAbsent("d")
	assert.Equal(t, 2, c.Len())
	assert.True(t, c.CheckAndBoost("d"))
}

func TestAddIfAbsent_SkippedWhenStillFullAfterMaintenance(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 3
	cfg.DefaultValue = 50
	cfg.DecayAmount = 2
	cfg.BatchEvictionSize = 0
	cfg.LRUEvictionEnabled = false
	c := New(cfg)

	c.AddIfAbsent("a")
	c.AddIfAbsent("b")
	c.AddIfAbsent("c")
	require.Equal(t, 3, c.Len())

	// LRU eviction disabled and decay leaves every score positive, so
	// maintenance frees nothing and the insert is skipped.
	c.AddIfAbsent("d")
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.CheckAndBoost("d"))
}

func TestAddIfAbsent_EvictsOldestWhenStillFullAfterDecay(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 2
	cfg.DefaultValue = 100
	cfg.DecayAmount = 1
	cfg.BatchEvictionSize = 1
	c := New(cfg)

	c.AddIfAbsent("a")
	c.AddIfAbsent("b")
	require.Equal(t, 2, c.Len())

	c.AddIfAbsent("c")
	assert.Equal(t, 2, c.Len())
	// "a" was the least recently touched and should have been evicted to
	// make room for "c".
	assert.False(t, c.CheckAndBoost("a"))
	assert.True(t, c.CheckAndBoost("c"))
}

func TestCheckAndBoost_TouchProtectsFromEviction(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 2
	cfg.DefaultValue = 100
	cfg.DecayAmount = 1
	cfg.BatchEvictionSize = 1
	c := New(cfg)

	c.AddIfAbsent("a")
	c.AddIfAbsent("b")
	// Touch "a" so "b" becomes the least recently used.
	c.CheckAndBoost("a")

	c.AddIfAbsent("c")
	assert.True(t, c.CheckAndBoost("a"))
	assert.False(t, c.CheckAndBoost("b"))
}

func TestResetBatchCounters_ClearsHitsButNotEntries(t *testing.T) {
	c := New(testConfig())
	c.AddIfAbsent("a")
	c.CheckAndBoost("a")

	c.ResetBatchCounters()
	stats := c.StatsSnapshot()
	assert.Equal(t, int64(0), stats.CacheHits)
	assert.Equal(t, int64(0), stats.CacheMisses)
	assert.Equal(t, 1, stats.Size)
}

func TestAddAll_ConcurrentSafe(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 1000
	c := New(cfg)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			addrs := make([]string, 0, 20)
			for i := 0; i < 20; i++ {
				addrs = append(addrs, fmt.Sprintf("0x%d-%d", worker, i))
			}
			c.AddAll(addrs)
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 200, c.Len())
}

// TestCache_NeverExceedsMaxSize is a property test: for any sequence of
// AddIfAbsent calls against a freshly built cache, the occupancy never
// exceeds MaxSize.
func TestCache_NeverExceedsMaxSize(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("occupancy never exceeds MaxSize", prop.ForAll(
		func(maxSize int, inserts int) bool {
			cfg := testConfig()
			cfg.MaxSize = maxSize
			cfg.BatchEvictionSize = 1
			cfg.MinCacheSize = 1
			c := New(cfg)

			for i := 0; i < inserts; i++ {
				c.AddIfAbsent(fmt.Sprintf("0x%d", i))
			}
			return c.Len() <= maxSize
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}
