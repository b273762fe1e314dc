// Package cache holds last-traded prices used to fill simulated orders
// when the caller does not supply a price.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// LTPCache is a sharded last-traded-price cache keyed by symbol.
type LTPCache struct {
	shards [numShards]*ltpShard
}

type ltpShard struct {
	mu    sync.RWMutex
	items map[string]ltpEntry
}

type ltpEntry struct {
	price     float64
	updatedAt time.Time
}

// NewLTPCache creates an empty cache.
func NewLTPCache() *LTPCache {
	c := &LTPCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &ltpShard{items: make(map[string]ltpEntry)}
	}
	return c
}

func (c *LTPCache) getShard(symbol string) *ltpShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the last traded price for a symbol.
func (c *LTPCache) Set(symbol string, price float64) {
	if price <= 0 {
		return
	}
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = ltpEntry{price: price, updatedAt: time.Now()}
	shard.mu.Unlock()
}

// Get retrieves the price for a symbol regardless of age.
func (c *LTPCache) Get(symbol string) (float64, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.price, ok
}

// GetFresh retrieves the price only if it is younger than maxAge. A
// non-positive maxAge disables the staleness check.
func (c *LTPCache) GetFresh(symbol string, maxAge time.Duration) (float64, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if maxAge > 0 && time.Since(entry.updatedAt) > maxAge {
		return 0, false
	}
	return entry.price, true
}

// Len returns total symbols across all shards.
func (c *LTPCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge and reports how many.
func (c *LTPCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, entry := range shard.items {
			if entry.updatedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
