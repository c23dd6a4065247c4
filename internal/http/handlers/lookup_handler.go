// Lookup HTTP handlers.
//
// This file exposes the cache-aware lookup surface used by result views:
//   - GET /products/:code    (assessment for a barcode)
//   - GET /ingredients/:id   (per-ingredient detail, volatile-cached)
//
// Product lookups go through the coordinator, so they share the dedup map
// and durable cache with the scanning pipeline: polling a code that is
// already Processing attaches as a waiter instead of issuing a second
// remote call.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clearmeat/go-scan-core/internal/lookup"
)

// cacheHeader reports whether the durable cache served the assessment.
const cacheHeader = "X-Cache"

// GetProduct resolves a barcode to its assessment.
func (h *Handlers) GetProduct(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		Fail(c, http.StatusBadRequest, ErrCodeInvalidRequest, "code must not be empty")
		return
	}

	o := h.lookups.Lookup(c.Request.Context(), code)
	switch o.Kind {
	case lookup.OutcomeSuccess:
		if o.FromCache {
			c.Header(cacheHeader, "hit")
		} else {
			c.Header(cacheHeader, "miss")
		}
		ok(c, o.Assessment)
	case lookup.OutcomeNotFound:
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "no data for this code")
	case lookup.OutcomeRateLimited:
		Fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "assessment service rate limit reached")
	default:
		Fail(c, http.StatusBadGateway, ErrCodeUpstream, "assessment service unavailable, scan again to retry")
	}
}

// GetIngredient resolves one ingredient's detail analysis.
func (h *Handlers) GetIngredient(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Fail(c, http.StatusBadRequest, ErrCodeInvalidRequest, "id must not be empty")
		return
	}

	ia, err := h.lookups.IngredientDetail(c.Request.Context(), id)
	switch {
	case err == nil:
		ok(c, ia)
	case errors.Is(err, lookup.ErrNotFound):
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "no data for this ingredient")
	case errors.Is(err, lookup.ErrRateLimited):
		Fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, "assessment service rate limit reached")
	default:
		Fail(c, http.StatusBadGateway, ErrCodeUpstream, "assessment service unavailable")
	}
}
