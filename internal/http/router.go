// Package httpapi wires the HTTP transport (Gin) to the scanner pipeline:
// session control, cache-aware lookups, cache administration, and the
// cross-cutting middleware chain (tracing, correlation IDs, logging, panic
// recovery, metrics, rate limiting, CORS, security headers, compression).
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/clearmeat/go-scan-core/internal/cache"
	"github.com/clearmeat/go-scan-core/internal/config"
	"github.com/clearmeat/go-scan-core/internal/http/handlers"
	"github.com/clearmeat/go-scan-core/internal/http/middleware"
	"github.com/clearmeat/go-scan-core/internal/repo"
)

// Deps carries the pipeline collaborators the router exposes over HTTP.
type Deps struct {
	Session  handlers.SessionController
	Device   handlers.DetectionInjector
	Lookups  handlers.LookupService
	Store    *repo.AssessmentCache
	Analyses *cache.AnalysisCache
}

// cacheAdmin adapts the two concrete caches to the handlers.CacheAdmin
// contract, fanning Clear out to both. This keeps handlers decoupled from
// the concrete stores.
type cacheAdmin struct {
	store    *repo.AssessmentCache
	analyses *cache.AnalysisCache
}

// Stats proxies the durable store.
func (a cacheAdmin) Stats(ctx context.Context) (int64, *time.Time, error) {
	return a.store.Stats(ctx)
}

// EvictExpired proxies the durable store.
func (a cacheAdmin) EvictExpired(ctx context.Context) (int64, error) {
	return a.store.EvictExpired(ctx)
}

// Clear empties the durable store and the volatile analysis cache.
func (a cacheAdmin) Clear(ctx context.Context) error {
	if err := a.store.Clear(ctx); err != nil {
		return err
	}
	a.analyses.Clear()
	return nil
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per client IP)
//  8. Compression, CORS, and security headers
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; the only body this API accepts is
	// a single barcode)
	r.Use(limitBody(64 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 8) Compression, CORS posture, security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(d.Session, d.Device, d.Lookups, cacheAdmin{store: d.Store, analyses: d.Analyses})

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Session
		api.GET("/session", h.GetSession)
		api.POST("/session/start", h.StartSession)
		api.POST("/session/stop", h.StopSession)
		api.POST("/session/pause", h.PauseSession)
		api.POST("/session/resume", h.ResumeSession)
		api.POST("/session/detections", h.PostDetection)

		// Lookups
		api.GET("/products/:code", h.GetProduct)
		api.GET("/ingredients/:id", h.GetIngredient)

		// Cache administration
		api.GET("/cache/stats", h.GetCacheStats)
		api.POST("/cache/evict", h.EvictExpired)
		api.DELETE("/cache", h.ClearCaches)
	}
}

// limitBody caps the request body size for all routes.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request != nil && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// groupWithPrefix mounts the API group under base, tolerating "/" and "".
func groupWithPrefix(r *gin.Engine, base string) *gin.RouterGroup {
	if base == "" || base == "/" {
		return &r.RouterGroup
	}
	return r.Group(base)
}
