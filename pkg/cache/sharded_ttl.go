// Package cache provides a sharded in-memory TTL set, used on the hot
// delivery path to drop replayed trade commands.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// ShardedTTL remembers string keys for a bounded time. Sharding keeps lock
// contention low when many drain goroutines check keys concurrently.
type ShardedTTL struct {
	shards [numShards]*ttlShard
	ttl    time.Duration
}

type ttlShard struct {
	mu     sync.Mutex
	items  map[string]time.Time
	lastGC time.Time
}

// NewShardedTTL creates a TTL set. A non-positive ttl defaults to one minute.
func NewShardedTTL(ttl time.Duration) *ShardedTTL {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c := &ShardedTTL{ttl: ttl}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &ttlShard{items: make(map[string]time.Time)}
	}
	return c
}

func (c *ShardedTTL) getShard(key string) *ttlShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Seen marks the key and reports whether it was already present within the
// TTL window. Expired entries in the shard are collected lazily, at most once
// per TTL interval.
func (c *ShardedTTL) Seen(key string) bool {
	now := time.Now()
	shard := c.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if now.Sub(shard.lastGC) > c.ttl {
		for k, at := range shard.items {
			if now.Sub(at) > c.ttl {
				delete(shard.items, k)
			}
		}
		shard.lastGC = now
	}

	if at, ok := shard.items[key]; ok && now.Sub(at) <= c.ttl {
		return true
	}
	shard.items[key] = now
	return false
}

// Forget removes a key before its TTL expires.
func (c *ShardedTTL) Forget(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
}

// Len returns the number of remembered keys across all shards, including
// entries that expired but were not collected yet.
func (c *ShardedTTL) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		total += len(shard.items)
		shard.mu.Unlock()
	}
	return total
}

// Cleanup removes entries older than the TTL from every shard and returns how
// many were dropped.
func (c *ShardedTTL) Cleanup() int {
	now := time.Now()
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for k, at := range shard.items {
			if now.Sub(at) > c.ttl {
				delete(shard.items, k)
				removed++
			}
		}
		shard.lastGC = now
		shard.mu.Unlock()
	}
	return removed
}
