package entitlement

import (
	"container/list"
	"sync"
	"time"

	"github.com/revai/concierge/models"
)

// cacheEntry holds one tenant's last known snapshot
type cacheEntry struct {
	tenantID      string
	snapshot      *models.SubscriptionSnapshot
	storedAt      time.Time
	invalidatedAt time.Time
	stale         bool
	element       *list.Element // For LRU tracking
}

// isFresh reports whether the entry can be served without refetching
func (e *cacheEntry) isFresh(now time.Time, window time.Duration) bool {
	return !e.stale && now.Sub(e.storedAt) <= window
}

// SnapshotCache is an in-memory LRU cache of subscription snapshots keyed by
// tenant. Entries past the freshness window are kept rather than dropped so
// the resolver can fall back to them when the provider is down.
// Thread-safe implementation using sync.RWMutex
type SnapshotCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	lruList *list.List
	maxSize int
	window  time.Duration
	now     func() time.Time
	hits    uint64
	misses  uint64
	stale   uint64
}

// NewSnapshotCache creates a cache holding at most maxSize tenants whose
// entries stay fresh for window
func NewSnapshotCache(maxSize int, window time.Duration, now func() time.Time) *SnapshotCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	if now == nil {
		now = time.Now
	}
	return &SnapshotCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		window:  window,
		now:     now,
	}
}

// Get returns a copy of the cached snapshot for the tenant. fresh is false
// when the entry is past the freshness window or was invalidated; ok is
// false when nothing is cached.
func (c *SnapshotCache) Get(tenantID string) (snap *models.SubscriptionSnapshot, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[tenantID]
	if !exists {
		c.misses++
		return nil, false, false
	}

	c.lruList.MoveToFront(entry.element)
	if !entry.isFresh(c.now(), c.window) {
		c.stale++
		return entry.snapshot.Clone(), false, true
	}

	c.hits++
	return entry.snapshot.Clone(), true, true
}

// Peek returns a copy of the cached snapshot without touching statistics or LRU order
func (c *SnapshotCache) Peek(tenantID string) (*models.SubscriptionSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[tenantID]
	if !exists {
		return nil, false
	}
	return entry.snapshot.Clone(), true
}

// Set stores the snapshot unconditionally
func (c *SnapshotCache) Set(snap *models.SubscriptionSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store(snap)
}

// SetIfNewer stores the snapshot unless the cache already holds one fetched
// later. It reports whether the snapshot was stored. A snapshot fetched
// before the entry was last invalidated is stored but stays stale.
func (c *SnapshotCache) SetIfNewer(snap *models.SubscriptionSnapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var invalidatedAt time.Time
	if entry, exists := c.entries[snap.TenantID]; exists {
		if entry.snapshot.FetchedAt.After(snap.FetchedAt) {
			return false
		}
		invalidatedAt = entry.invalidatedAt
	}

	stored := c.store(snap)
	if snap.FetchedAt.Before(invalidatedAt) {
		stored.stale = true
		stored.invalidatedAt = invalidatedAt
	}
	return true
}

// store must be called with lock held
func (c *SnapshotCache) store(snap *models.SubscriptionSnapshot) *cacheEntry {
	copied := snap.Clone()
	copied.Stale = false

	if entry, exists := c.entries[snap.TenantID]; exists {
		entry.snapshot = copied
		entry.storedAt = c.now()
		entry.stale = false
		entry.invalidatedAt = time.Time{}
		c.lruList.MoveToFront(entry.element)
		return entry
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		tenantID: snap.TenantID,
		snapshot: copied,
		storedAt: c.now(),
	}
	entry.element = c.lruList.PushFront(snap.TenantID)
	c.entries[snap.TenantID] = entry
	return entry
}

// Invalidate marks the tenant's entry stale so the next lookup refetches.
// The snapshot itself is kept for fail-open. Reports whether an entry existed.
func (c *SnapshotCache) Invalidate(tenantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[tenantID]
	if !exists {
		return false
	}
	entry.stale = true
	entry.invalidatedAt = c.now()
	return true
}

// Delete removes the tenant's entry entirely
func (c *SnapshotCache) Delete(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(tenantID)
}

// Clear removes all entries from the cache
func (c *SnapshotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Len returns the number of cached tenants
func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lruList.Len()
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Stale   uint64  `json:"stale"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns cache statistics
func (c *SnapshotCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		Stale:   c.stale,
		HitRate: c.calculateHitRate(),
	}
}

func (c *SnapshotCache) calculateHitRate() float64 {
	total := c.hits + c.misses + c.stale
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry must be called with lock held
func (c *SnapshotCache) removeEntry(tenantID string) {
	if entry, exists := c.entries[tenantID]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, tenantID)
	}
}

// evictLRU must be called with lock held
func (c *SnapshotCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	tenantID := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, tenantID)
}

// PruneOlderThan drops entries stored more than maxAge ago. Fail-open only
// serves snapshots younger than that.
func (c *SnapshotCache) PruneOlderThan(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []string
	for tenantID, entry := range c.entries {
		if now.Sub(entry.storedAt) > maxAge {
			expired = append(expired, tenantID)
		}
	}
	for _, tenantID := range expired {
		c.removeEntry(tenantID)
	}
	return len(expired)
}

// StartCleanupWorker periodically prunes entries older than maxAge until stopCh closes
func (c *SnapshotCache) StartCleanupWorker(interval, maxAge time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.PruneOlderThan(maxAge)
		case <-stopCh:
			return
		}
	}
}
