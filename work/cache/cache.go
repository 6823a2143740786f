package cache

import (
	"sync"
	"time"

	"aonline-proxy/work/types"

	"github.com/maypok86/otter/v2"
)

// StreamCache holds resolved stream lists keyed by target URL. Entries
// expire after the configured TTL and are never replaced by an empty
// result.
type StreamCache struct {
	store *otter.Cache[string, types.CacheEntry] // bounded store, expiry on write
	ttl   time.Duration                          // how long an entry stays fresh
	mu    sync.Mutex                             // serializes compare-and-replace writes
	now   func() time.Time                       // clock, replaceable in tests
}

// NewStreamCache creates and returns a new StreamCache with the given TTL
// and maximum number of entries.
//
// Parameters:
//   - ttl: how long entries are considered valid before expiring
//   - maxEntries: upper bound on cached targets
//
// Returns:
//   - *StreamCache: pointer to a new cache ready for concurrent use
func NewStreamCache(ttl time.Duration, maxEntries int) *StreamCache {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	return &StreamCache{
		store: otter.Must(&otter.Options[string, types.CacheEntry]{
			MaximumSize:      maxEntries,
			ExpiryCalculator: otter.ExpiryWriting[string, types.CacheEntry](ttl),
		}),
		ttl: ttl,
		now: time.Now,
	}
}

// Get retrieves a fresh, non-empty entry for key.
//
// Behavior:
//   - If the key exists, is younger than the TTL and holds streams → returns it and true.
//   - Otherwise → returns the zero entry and false.
func (c *StreamCache) Get(key string) (types.CacheEntry, bool) {
	entry, ok := c.store.GetIfPresent(key)
	if !ok || !entry.Fresh(c.now(), c.ttl) {
		return types.CacheEntry{}, false
	}
	return entry, true
}

// Put stores a complete resolution result for key and reports whether it
// was written.
//
// Behavior:
//   - Empty results are rejected.
//   - A partial (quick lane) entry is always replaced.
//   - A complete entry is replaced only by a result at least as large.
//   - Missing or stale entries are simply written.
func (c *StreamCache) Put(key string, streams []types.ResolvedStream) bool {
	if len(streams) == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.Get(key); ok && !current.Partial && len(streams) < len(current.Streams) {
		return false
	}

	c.store.Set(key, c.entry(streams, false))
	return true
}

// PutIfAbsent stores a partial result for key unless a fresh entry is
// already present. Empty results are rejected.
func (c *StreamCache) PutIfAbsent(key string, streams []types.ResolvedStream) bool {
	if len(streams) == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.Get(key); ok {
		return false
	}

	c.store.Set(key, c.entry(streams, true))
	return true
}

func (c *StreamCache) entry(streams []types.ResolvedStream, partial bool) types.CacheEntry {
	return types.CacheEntry{
		CreatedAt: c.now(),
		Streams:   append([]types.ResolvedStream(nil), streams...),
		Partial:   partial,
	}
}

// Len returns the approximate number of cached targets.
func (c *StreamCache) Len() int {
	return c.store.EstimatedSize()
}
