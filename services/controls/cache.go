package controls

import (
	"sync"
	"time"

	"github.com/upb/autonomy-orchestrator/internal/clock"
	"github.com/upb/autonomy-orchestrator/models"
)

// FlagCache holds the last read of the control flags for a short TTL.
// Thread-safe implementation using sync.RWMutex. Only the status endpoint
// reads through it; the tick loop always reads the store.
type FlagCache struct {
	mu         sync.RWMutex
	flags      *models.ControlFlags
	insertedAt time.Time
	ttl        time.Duration
	clock      clock.Clock
	hits       uint64
	misses     uint64
}

// NewFlagCache creates a new FlagCache with the given TTL
func NewFlagCache(ttl time.Duration, clk clock.Clock) *FlagCache {
	return &FlagCache{
		ttl:   ttl,
		clock: clock.Or(clk),
	}
}

// Get returns a copy of the cached flags, or nil if empty or expired
func (c *FlagCache) Get() *models.ControlFlags {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flags == nil || c.clock.Now().Sub(c.insertedAt) > c.ttl {
		c.misses++
		c.flags = nil
		return nil
	}

	c.hits++
	cp := *c.flags
	return &cp
}

// Set stores flags in the cache
func (c *FlagCache) Set(flags *models.ControlFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *flags
	c.flags = &cp
	c.insertedAt = c.clock.Now()
}

// Invalidate drops the cached flags
func (c *FlagCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.flags = nil
}

// Stats returns cache statistics
func (c *FlagCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// calculateHitRate calculates the cache hit rate (must be called with lock held)
func (c *FlagCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}
