package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"data-gateway/middleware/gateway/application"
	"data-gateway/middleware/gateway/domain"
	"data-gateway/middleware/gateway/infra"

	"github.com/redis/go-redis/v9"
)

type dependencies struct {
	limiter      *infra.FixedWindowLimiter
	throttle     *infra.ProviderThrottle
	slots        *infra.UpstreamSlots
	stats        domain.StatsStore
	orchestrator *application.Orchestrator
}

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.cacheBackend == "redis" || cfg.statsBackend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		pingCancel()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}
	}

	limiter := infra.NewFixedWindowLimiter(
		infra.WithShards(cfg.limiterShards),
		infra.WithSweepEvery(cfg.sweepEvery),
	)
	stopSweep := limiter.StartJanitor(ctx)
	defer stopSweep()

	var cache domain.Cache
	if cfg.cacheBackend == "redis" {
		cache = infra.NewRedisCache(rdb,
			infra.WithCachePrefix(cfg.cachePrefix),
			infra.WithRedisStaleFor(cfg.cacheStaleFor),
		)
	} else {
		mem := infra.NewMemoryCache(
			infra.WithStaleFor(cfg.cacheStaleFor),
			infra.WithMaxEntries(cfg.cacheMaxEntries),
		)
		stopCacheSweep := mem.StartJanitor(ctx)
		defer stopCacheSweep()
		cache = mem
	}

	var stats domain.StatsStore
	switch cfg.statsBackend {
	case "memory":
		stats = infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.statsTrackKeys))
	case "redis":
		stats = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		)
	}

	throttle := infra.NewProviderThrottle()
	slots := infra.NewUpstreamSlots(cfg.upstreamConcurrency)
	orch := &application.Orchestrator{
		Admission: application.Service{Limiter: limiter},
		Cache:     cache,
		Retry:     application.RetryExecutor{Logger: logger},
		Slots: application.ConcurrencyService{
			Pool:           slots,
			AcquireTimeout: cfg.upstreamAcquireTimeout,
		},
		Throttle: throttle,
		Stats:    stats,
		Logger:   logger,
		Timeout:  cfg.fetchTimeout,
		Coalesce: cfg.coalesce,
	}

	deps := dependencies{
		limiter:      limiter,
		throttle:     throttle,
		slots:        slots,
		stats:        stats,
		orchestrator: orch,
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           newMux(cfg, deps, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.fetchTimeout + 5*time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", slog.String("addr", cfg.listenAddr))
	logger.Info("rate limit",
		slog.Int("max_requests", cfg.rateMaxRequests),
		slog.Duration("window", cfg.rateWindow),
		slog.Int("hourly_max", cfg.rateHourlyMax),
		slog.String("key_header", cfg.keyHeader),
		slog.Bool("trust_xff", cfg.trustXFF),
	)
	logger.Info("retry",
		slog.Int("max_retries", cfg.retryMax),
		slog.Duration("initial_delay", cfg.retryInitialDelay),
		slog.Duration("max_delay", cfg.retryMaxDelay),
		slog.Duration("fetch_timeout", cfg.fetchTimeout),
		slog.Bool("coalesce", cfg.coalesce),
	)
	logger.Info("cache", slog.String("backend", cfg.cacheBackend), slog.Duration("stale_for", cfg.cacheStaleFor))
	logger.Info("stats", slog.String("backend", cfg.statsBackend), slog.Bool("track_keys", cfg.statsTrackKeys))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}
