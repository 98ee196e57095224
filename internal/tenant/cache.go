package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// CachedTenantRepository wraps a TenantRepository with a per-process TTL cache.
// Entries are keyed by the ambient snapshot's tenant id, so a hit can only ever
// return the row of the tenant the caller already acts for.
type CachedTenantRepository struct {
	next    TenantRepository
	ttl     time.Duration
	clock   clock.Clock
	mu        sync.RWMutex
	entries   map[string]cacheEntry
	lastSweep time.Time
}

type cacheEntry struct {
	value     Tenant
	expiresAt time.Time
}

// NewCachedTenantRepository creates the cache. A non-positive ttl disables caching.
func NewCachedTenantRepository(next TenantRepository, ttl time.Duration, clk clock.Clock) *CachedTenantRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &CachedTenantRepository{
		next:      next,
		ttl:       ttl,
		clock:     clk,
		entries:   make(map[string]cacheEntry),
		lastSweep: clk.Now(),
	}
}

// Current returns the cached tenant row, loading it on a miss. Lookup failures are
// never cached.
func (c *CachedTenantRepository) Current(ctx context.Context) (*Tenant, error) {
	s, ok := FromContext(ctx)
	if !ok || !s.HasTenant() || c.ttl <= 0 {
		return c.next.Current(ctx)
	}

	now := c.clock.Now()
	c.mu.RLock()
	entry, found := c.entries[s.TenantID]
	c.mu.RUnlock()
	if found && now.Before(entry.expiresAt) {
		t := entry.value
		return &t, nil
	}

	t, err := c.next.Current(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(now)
	if err != nil {
		delete(c.entries, s.TenantID)
		return nil, err
	}
	c.entries[s.TenantID] = cacheEntry{value: *t, expiresAt: now.Add(c.ttl)}
	return t, nil
}

// sweepLocked drops expired entries at most once per ttl so tenants that stop
// calling do not stay resident.
func (c *CachedTenantRepository) sweepLocked(now time.Time) {
	if now.Sub(c.lastSweep) < c.ttl {
		return
	}
	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
	c.lastSweep = now
}

var _ TenantRepository = (*CachedTenantRepository)(nil)
