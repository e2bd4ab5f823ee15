package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/radiusdt/vector-analytics/internal/app"
	"github.com/radiusdt/vector-analytics/internal/cache"
	"github.com/radiusdt/vector-analytics/internal/config"
	"github.com/radiusdt/vector-analytics/internal/database"
	"github.com/radiusdt/vector-analytics/internal/httpserver"
	"github.com/radiusdt/vector-analytics/internal/metrics"
	"github.com/radiusdt/vector-analytics/internal/middleware"
	"github.com/radiusdt/vector-analytics/internal/query"
	"github.com/radiusdt/vector-analytics/internal/storage"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	format := cfg.Log.Format
	if cfg.IsDevelopment() && format == "" {
		format = "console"
	}
	logger, err := middleware.NewLogger(cfg.Log.Level, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting Vector Analytics",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.String("backend", cfg.FactStore.Backend),
		zap.Bool("materialize", cfg.FactStore.Materialize),
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.FactStore.ReloadTimeout)
	facts, err := app.OpenFactStore(startCtx, cfg, logger, m, true)
	cancelStart()
	if err != nil {
		logger.Fatal("failed to open fact store", zap.Error(err))
	}

	loc, _ := cfg.Query.Location()
	engine := query.NewEngine(facts.Store, query.Options{
		Location:          loc,
		DefaultWindowDays: cfg.Query.DefaultWindowDays,
		TrailingBuckets:   cfg.Query.TrailingBuckets,
		MaxLimit:          cfg.Query.MaxLimit,
		MaxBuckets:        cfg.Query.MaxBuckets,
		CacheTTL:          cfg.Cache.TTL,
	}, logger)
	if m != nil {
		engine.SetMetrics(m)
	}

	// Result cache is optional; the service runs without it.
	if cfg.Cache.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redis, err := database.NewRedisDB(ctx, cfg.Redis, logger)
		cancel()
		if err != nil {
			logger.Warn("Redis not available, result caching disabled", zap.Error(err))
		} else {
			defer redis.Close()
			rc := cache.NewRedisCache(redis.Client)
			engine.SetCache(rc)
			facts.Checks["redis"] = redis.Health
			if facts.Reloader != nil {
				facts.Reloader.OnSwap(func(prev, _ storage.Version) {
					invalidateGeneration(rc, prev, logger)
				})
			}
		}
	}

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Engine:  engine,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Checks:  facts.Checks,
	})

	limiter := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	mws := []func(http.Handler) http.Handler{
		middleware.NewRecoveryMiddleware(logger).Handler,
		middleware.NewLoggingMiddleware(logger).Handler,
	}
	if m != nil {
		limiter.SetMetrics(m)
		mws = append(mws, middleware.NewMetricsMiddleware(m, httpserver.Routes(cfg)).Handler)
	}
	mws = append(mws, limiter.Handler)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      middleware.Chain(handler, mws...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Per-IP limiters are dropped hourly.
	stopCleanup := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limiter.CleanupIPLimiters()
			case <-stopCleanup:
				return
			}
		}
	}()

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	close(stopCleanup)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	facts.Close(ctx)

	logger.Info("server stopped")
}

// invalidateGeneration drops cached results of a replaced snapshot.
func invalidateGeneration(rc *cache.RedisCache, prev storage.Version, logger *zap.Logger) {
	if prev.Token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := rc.Invalidate(ctx, prev.Token)
	if err != nil {
		logger.Warn("failed to invalidate cached results", zap.String("version", prev.Token), zap.Error(err))
		return
	}
	logger.Info("invalidated cached results", zap.String("version", prev.Token), zap.Int("keys", n))
}
