// Sidecar entry point with graceful shutdown and optional Redis
// persistence of the budget snapshot. Wires every optimizer component
// into one Pipeline and serves it. Pricing is refreshed on demand by the
// pricing cache; no periodic refresh timer is started here.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/evansantos/slimclaw/config"
	"github.com/evansantos/slimclaw/logger"
	"github.com/evansantos/slimclaw/optimizer"
	"github.com/evansantos/slimclaw/provider"
	"github.com/evansantos/slimclaw/proxy"
	"github.com/evansantos/slimclaw/redisclient"
	"github.com/evansantos/slimclaw/router"
	"github.com/evansantos/slimclaw/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("invalid configuration: " + err.Error())
	}
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Str("mode", cfg.Mode).Msg("slimclaw sidecar starting")

	budget := optimizer.NewBudgetTracker(cfg.Routing.Budget)

	// Backing store for BudgetTracker snapshots. MemoryStore is the
	// default, single-process baseline — restarts start with a fresh
	// budget, which is a no-op round trip through the same Store
	// interface Redis fills in below. When REDIS_URL is set, the budget
	// snapshot is read from Redis at startup and written back at
	// shutdown, so it persists across restarts.
	var dist store.Store = store.NewMemoryStore()
	if cfg.RedisURL != "" {
		rc, err := redisclient.New(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed — continuing with in-memory budget/experiment state")
		} else if err := rc.Ping(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed — continuing with in-memory budget/experiment state")
		} else {
			dist = store.NewRedisStore(rc, "slimclaw")
			log.Info().Msg("redis connected — budget state will persist across restarts")
		}
	}
	loadBudgetSnapshot(context.Background(), dist, budget, log)

	pricing := optimizer.NewPricingCache(cfg.Routing.DynamicPricing, log)
	latency := optimizer.NewLatencyTracker(cfg.Routing.LatencyTracking.BufferSize, float64(cfg.Routing.LatencyTracking.OutlierThresholdMs))

	abtest, err := optimizer.NewABTestManager(cfg.Routing.ABTesting)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid A/B testing configuration")
	}

	reporter := optimizer.NewJSONLReporter(cfg.BaseDir, cfg.Metrics.LogPath, log)
	metricsCollector := optimizer.NewMetricsCollector(cfg.Metrics, reporter, log)

	pipeline := optimizer.NewPipeline(cfg, log, pricing, latency, budget, abtest, metricsCollector, nil)

	creds := provider.NewCredentialStore(cfg.Proxy)
	pool := proxy.DefaultConnectionPool()
	sidecar := proxy.NewSidecar(cfg, log, pipeline, creds, pool)

	introspect := router.NewIntrospection(cfg, metricsCollector, reporter, budget, abtest, log)
	r := router.New(cfg, log, sidecar, introspect)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.Proxy.RequestTimeout)*time.Millisecond + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("sidecar listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	// Reject new requests while in-flight ones drain.
	sidecar.BeginShutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("sidecar stopped gracefully")
	}

	metricsCollector.Stop()
	pool.Close()

	saveBudgetSnapshot(context.Background(), dist, budget, log)
}

const budgetSnapshotKey = "budget_snapshot"

func loadBudgetSnapshot(ctx context.Context, s store.Store, budget *optimizer.BudgetTracker, log zerolog.Logger) {
	b, err := s.Get(ctx, budgetSnapshotKey)
	if err != nil || len(b) == 0 {
		return
	}
	var snap optimizer.BudgetSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		log.Warn().Err(err).Msg("failed to parse persisted budget snapshot")
		return
	}
	budget.FromSnapshot(snap)
	log.Info().Msg("restored budget state from distributed store")
}

func saveBudgetSnapshot(ctx context.Context, s store.Store, budget *optimizer.BudgetTracker, log zerolog.Logger) {
	snap := budget.Serialize()
	b, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("failed to serialize budget snapshot")
		return
	}
	if err := s.Set(ctx, budgetSnapshotKey, b); err != nil {
		log.Error().Err(err).Msg("failed to persist budget snapshot")
	}
}
