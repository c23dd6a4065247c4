// Package cache provides the volatile analysis cache: an in-memory,
// concurrency-safe store for per-ingredient detail lookups. Entries carry a
// write timestamp and are expired lazily on read, mirroring the durable
// assessment cache's policy, but live only for the process lifetime.
//
// The cache exists so ingredient-detail requests from a result view never
// contend with the main barcode lookup pipeline or its sqlite store.
package cache

import (
	"sync"
	"time"

	"github.com/clearmeat/go-scan-core/internal/domain"
)

// entry pairs a cached value with its write time for the TTL check.
type entry struct {
	value     *domain.IngredientAnalysis
	writtenAt time.Time
}

// AnalysisCache is a mutex-guarded map keyed by ingredient identifier.
// All access is serialized through the embedded mutex; callers never touch
// the map directly. Safe for arbitrary concurrent use.
type AnalysisCache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration

	// now is a seam for TTL-boundary tests.
	now func() time.Time
}

// NewAnalysisCache returns an empty cache whose entries are valid for ttl.
func NewAnalysisCache(ttl time.Duration) *AnalysisCache {
	return &AnalysisCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached analysis for id, or (nil, false). An entry whose
// TTL has elapsed is removed by the read that discovers it.
func (c *AnalysisCache) Get(id string) (*domain.IngredientAnalysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.writtenAt) >= c.ttl {
		delete(c.entries, id)
		return nil, false
	}
	return e.value, true
}

// Set stores (or refreshes) the analysis for id with writtenAt = now.
func (c *AnalysisCache) Set(id string, v *domain.IngredientAnalysis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry{value: v, writtenAt: c.now()}
}

// Clear removes every entry.
func (c *AnalysisCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len reports the number of entries currently held, including any whose TTL
// has elapsed but which no read has evicted yet.
func (c *AnalysisCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
