package indexer

import (
	"context"
	"sync"
	"time"
)

type headSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// HeadCache caches the chain head to reduce redundant calls when the
// indexer sits at the tip and the health endpoint polls frequently.
type HeadCache struct {
	source headSource
	ttl    time.Duration

	mu       sync.RWMutex
	cached   uint64
	cachedAt time.Time
}

// NewHeadCache creates a head cache. A zero ttl disables caching.
func NewHeadCache(source headSource, ttl time.Duration) *HeadCache {
	return &HeadCache{source: source, ttl: ttl}
}

// GetLatestBlock returns the cached head if within TTL, otherwise fetches fresh.
func (c *HeadCache) GetLatestBlock(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	if c.ttl > 0 && time.Since(c.cachedAt) < c.ttl && c.cached > 0 {
		cached := c.cached
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	head, err := c.source.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cached = head
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return head, nil
}

// Invalidate clears the cache, forcing the next call to fetch fresh data.
func (c *HeadCache) Invalidate() {
	c.mu.Lock()
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}

type timestampSource interface {
	BlockTimestamp(ctx context.Context, number uint64) (time.Time, error)
}

// TimestampCache remembers block timestamps. Confirmed blocks never change,
// so entries only leave when the cache is full.
type TimestampCache struct {
	source timestampSource
	size   int

	mu    sync.Mutex
	times map[uint64]time.Time
	order []uint64
}

// NewTimestampCache creates a cache holding up to size blocks.
func NewTimestampCache(source timestampSource, size int) *TimestampCache {
	return &TimestampCache{
		source: source,
		size:   size,
		times:  make(map[uint64]time.Time, size),
	}
}

// Get returns the timestamp of block number.
func (c *TimestampCache) Get(ctx context.Context, number uint64) (time.Time, error) {
	c.mu.Lock()
	if t, ok := c.times[number]; ok {
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	t, err := c.source.BlockTimestamp(ctx, number)
	if err != nil {
		return time.Time{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.times[number]; !ok {
		if len(c.order) >= c.size {
			delete(c.times, c.order[0])
			c.order = c.order[1:]
		}
		c.times[number] = t
		c.order = append(c.order, number)
	}
	return t, nil
}
