// Cache administration HTTP handlers.
//
// This file exposes housekeeping endpoints for the two caches:
//   - GET    /cache/stats   (durable cache size and oldest entry)
//   - POST   /cache/evict   (delete expired durable rows eagerly)
//   - DELETE /cache         (clear both caches)
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CacheAdmin is the housekeeping contract over both caches. Implemented by
// the composition root, which fans the calls out to the durable store and
// the volatile analysis cache.
type CacheAdmin interface {
	// Stats returns the durable entry count and oldest write time.
	Stats(ctx context.Context) (count int64, oldest *time.Time, err error)
	// EvictExpired deletes expired durable rows and returns how many.
	EvictExpired(ctx context.Context) (int64, error)
	// Clear empties the durable store and the volatile analysis cache.
	Clear(ctx context.Context) error
}

// cacheStatsResponse is the JSON shape of GET /cache/stats.
type cacheStatsResponse struct {
	Entries         int64      `json:"entries"`
	OldestWrittenAt *time.Time `json:"oldest_written_at,omitempty"`
}

// GetCacheStats reports durable cache occupancy.
func (h *Handlers) GetCacheStats(c *gin.Context) {
	count, oldest, err := h.caches.Stats(c.Request.Context())
	if err != nil {
		Fail(c, http.StatusInternalServerError, ErrCodeInternal, "cache stats unavailable")
		return
	}
	ok(c, cacheStatsResponse{Entries: count, OldestWrittenAt: oldest})
}

// EvictExpired deletes expired durable rows ahead of their lazy eviction.
func (h *Handlers) EvictExpired(c *gin.Context) {
	n, err := h.caches.EvictExpired(c.Request.Context())
	if err != nil {
		Fail(c, http.StatusInternalServerError, ErrCodeInternal, "eviction failed")
		return
	}
	ok(c, gin.H{"evicted": n})
}

// ClearCaches empties both caches.
func (h *Handlers) ClearCaches(c *gin.Context) {
	if err := h.caches.Clear(c.Request.Context()); err != nil {
		Fail(c, http.StatusInternalServerError, ErrCodeInternal, "clear failed")
		return
	}
	noContent(c)
}
