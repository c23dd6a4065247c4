// Command scand runs the scanner daemon: it owns the capture session loop,
// the deduplicating lookup coordinator, both caches, and the HTTP control
// surface a presentation client drives.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clearmeat/go-scan-core/internal/cache"
	"github.com/clearmeat/go-scan-core/internal/capture"
	"github.com/clearmeat/go-scan-core/internal/config"
	httpapi "github.com/clearmeat/go-scan-core/internal/http"
	"github.com/clearmeat/go-scan-core/internal/lookup"
	"github.com/clearmeat/go-scan-core/internal/observability"
	"github.com/clearmeat/go-scan-core/internal/repo"
	"github.com/clearmeat/go-scan-core/internal/session"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Durable assessment cache.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open cache database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("cache migration failed")
	}
	store := repo.NewAssessmentCache(db, cfg.AssessmentTTL)
	if n, err := store.EvictExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("startup eviction failed")
	} else if n > 0 {
		log.Info().Int64("evicted", n).Msg("expired cache rows removed")
	}

	// Volatile analysis cache and lookup pipeline.
	analyses := cache.NewAnalysisCache(cfg.AnalysisTTL)
	client := lookup.NewHTTPClient(cfg.Remote)
	coord := lookup.NewCoordinator(store, analyses, client,
		cfg.LookupRPS, cfg.LookupBurst, cfg.Remote.Timeout, log.Logger)

	// Capture pipeline. The manual device is fed by POST /session/detections;
	// a hardware scanner integration implements capture.Device instead.
	dev := capture.NewManualDevice()
	gate := capture.NewGate(dev)
	newBridge := func() *capture.Bridge {
		return capture.NewBridge(dev, cfg.Capture.QueueSize, log.Logger)
	}
	runner := session.NewRunner(gate, newBridge, coord, session.NopPresenter{},
		cfg.Capture.RetryDelay, log.Logger)
	go runner.Run(ctx)

	// HTTP surface.
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Session:  runner,
		Device:   dev,
		Lookups:  coord,
		Store:    store,
		Analyses: analyses,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("scand listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

// setupLogging configures the global zerolog logger from config.
func setupLogging(cfg config.Config) {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
