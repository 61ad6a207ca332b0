package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupCache is an optional short-TTL "recently inserted" set that sits in
// front of the Bulk Writer's address upsert. Under sustained high
// throughput, the same hot addresses recur across many batches faster than
// the address cache's decay sweep clears them out of contention; marking an
// address here lets UpsertAddresses skip the round trip entirely instead of
// relying on Postgres to discard the conflicting row. It is a throughput
// optimisation layered in front of, not a replacement for, the database's
// own uniqueness constraint — losing this cache (a flush, a restart) only
// costs a few redundant ON CONFLICT DO NOTHING statements, never
// correctness.
type DedupCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewDedupCache builds a DedupCache backed by an already-connected
// RedisCache. A zero ttl disables expiry tracking and every address is
// treated as not-recently-seen, degrading to "always write".
func NewDedupCache(redis *RedisCache, ttl time.Duration) *DedupCache {
	return &DedupCache{redis: redis, ttl: ttl}
}

// FilterUnseen returns the subset of addresses NOT marked as recently
// inserted. It only reads; marking happens in MarkSeen. A Redis error
// degrades to treating every address as unseen, so a dedup cache outage
// never blocks ingestion — it is a pure throughput hint.
func (d *DedupCache) FilterUnseen(ctx context.Context, addresses []string) []string {
	if d == nil || d.redis == nil || d.ttl <= 0 || len(addresses) == 0 {
		return addresses
	}

	unseen := make([]string, 0, len(addresses))
	pipe := d.redis.Client().Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(addresses))
	for _, addr := range addresses {
		cmds[addr] = pipe.Exists(ctx, dedupKey(addr))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return addresses
	}

	for _, addr := range addresses {
		if cmds[addr].Val() == 0 {
			unseen = append(unseen, addr)
		}
	}
	return unseen
}

// MarkSeen records addresses as recently inserted for ttl. Called after a
// successful UpsertAddresses so the next batch's FilterUnseen skips them.
func (d *DedupCache) MarkSeen(ctx context.Context, addresses []string) {
	if d == nil || d.redis == nil || d.ttl <= 0 || len(addresses) == 0 {
		return
	}

	pipe := d.redis.Client().Pipeline()
	for _, addr := range addresses {
		pipe.Set(ctx, dedupKey(addr), "1", d.ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func dedupKey(address string) string {
	return "dedup:address:" + address
}
