package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/rivalapexmediation/auction/internal/adapters"
	"github.com/rivalapexmediation/auction/internal/analytics"
	"github.com/rivalapexmediation/auction/internal/api"
	"github.com/rivalapexmediation/auction/internal/auction"
	"github.com/rivalapexmediation/auction/internal/config"
	"github.com/rivalapexmediation/auction/internal/db"
	"github.com/rivalapexmediation/auction/internal/geoip"
	"github.com/rivalapexmediation/auction/internal/middleware"
	"github.com/rivalapexmediation/auction/internal/observability"
	"github.com/rivalapexmediation/auction/internal/ratelimit"
	"github.com/rivalapexmediation/auction/internal/waterfall"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	// Redis backs the performance tracker regardless of the registry backend.
	store, err := db.InitRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()

	var pg *db.Postgres
	if cfg.RegistryBackend == config.RegistryPostgres {
		pg, err = db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()
	}

	registry, err := adapters.NewRegistry(cfg, store, pg, logger)
	if err != nil {
		return fmt.Errorf("adapter registry: %w", err)
	}

	var analyticsSvc analytics.Service
	if cfg.AnalyticsEnabled {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, cfg.CHMaxOpenConns, metricsRegistry)
		if err != nil {
			// Auctions keep running without the event log.
			logger.Warn("clickhouse unavailable, waterfall events will not be stored", zap.Error(err))
		} else {
			defer ch.Close()
			analyticsSvc = ch
		}
	}

	var geoSvc *geoip.GeoIP
	if cfg.GeoIPDB != "" {
		geoSvc, err = geoip.Init(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geoSvc.Close() }()
	}

	limiter := ratelimit.NewAdapterLimiter(ratelimit.Config{
		Capacity:   cfg.RateLimitCapacity,
		RefillRate: cfg.RateLimitRefillRate,
		Enabled:    cfg.RateLimitEnabled,
	}, metricsRegistry)

	executor := auction.NewExecutor(registry, auction.NewHTTPBidder(logger), limiter, cfg.AdapterTimeout, logger, metricsRegistry)
	executor.SetCircuitBreaker(auction.NewCircuitBreaker(cfg.CircuitMaxFailures, cfg.CircuitResetTimeout))
	executor.SetDebugger(auction.NewDebugger(cfg.DebuggerCapacity))
	executor.SetHedgeDelay(cfg.HedgeDelay)

	orch := waterfall.NewOrchestrator(executor, registry, logger, metricsRegistry)
	orch.SetDefaults(waterfall.DefaultConfig().Merge(&waterfall.Overrides{
		MaxAttempts:         &cfg.WaterfallMaxAttempts,
		InitialRetryDelayMS: &cfg.WaterfallInitialRetryDelayMS,
		MaxRetryDelayMS:     &cfg.WaterfallMaxRetryDelayMS,
		BackoffMultiplier:   &cfg.WaterfallBackoffMultiplier,
		Enabled:             &cfg.WaterfallEnabled,
	}))
	// Operator defaults are never clamped below what they configure.
	orch.SetLimits(waterfall.Limits{
		MaxAttempts:     max(cfg.WaterfallAttemptLimit, cfg.WaterfallMaxAttempts),
		MaxRetryDelayMS: cfg.WaterfallMaxRetryDelayMS,
	})

	srvDeps := api.NewServer(logger, orch, registry, metricsRegistry)
	srvDeps.Performance = adapters.NewPerformanceTracker(store.Client)
	srvDeps.Analytics = analyticsSvc
	srvDeps.GeoIP = geoSvc
	srvDeps.Limiter = limiter
	srvDeps.Breaker = executor.CircuitBreaker()
	srvDeps.Debugger = executor.Debugger()
	srvDeps.Store = store

	r := mux.NewRouter()
	srvDeps.RegisterRoutes(r)
	r.Use(middleware.Recover(logger), middleware.WithTraceLogger(logger))

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, "mediation"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Mediation server running",
		zap.String("addr", addr),
		zap.String("registry", cfg.RegistryBackend),
		zap.Bool("waterfall_enabled", cfg.WaterfallEnabled),
		zap.Int("max_attempts", cfg.WaterfallMaxAttempts),
		zap.Duration("hedge_delay", cfg.HedgeDelay))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	if cfg.StatsLogInterval > 0 {
		ticker := time.NewTicker(cfg.StatsLogInterval)
		go func() {
			for {
				select {
				case <-ticker.C:
					logStats(logger, srvDeps.Stats.Snapshot())
				case <-ctx.Done():
					ticker.Stop()
					return
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logStats(logger, srvDeps.Stats.Snapshot())

	return nil
}

func logStats(logger *zap.Logger, st waterfall.Stats) {
	if st.TotalRequests == 0 {
		return
	}
	logger.Info("waterfall statistics",
		zap.Int64("total_requests", st.TotalRequests),
		zap.Int64("successful_first_attempt", st.SuccessfulFirstAttempt),
		zap.Int64("successful_with_fallback", st.SuccessfulWithFallback),
		zap.Int64("failed_all_attempts", st.FailedAllAttempts),
		zap.Float64("average_attempts", st.AverageAttempts),
		zap.Float64("average_duration_ms", st.AverageDuration))
}
