package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/didac-crst/mockexchange-api/internal/alert"
	"github.com/didac-crst/mockexchange-api/internal/api"
	"github.com/didac-crst/mockexchange-api/internal/config"
	"github.com/didac-crst/mockexchange-api/internal/engine"
	"github.com/didac-crst/mockexchange-api/internal/health"
	"github.com/didac-crst/mockexchange-api/internal/market"
	"github.com/didac-crst/mockexchange-api/internal/orderbook"
	"github.com/didac-crst/mockexchange-api/internal/portfolio"
	"github.com/didac-crst/mockexchange-api/internal/scheduler"
	"github.com/didac-crst/mockexchange-api/internal/store"
	"github.com/didac-crst/mockexchange-api/internal/telemetry"
	"github.com/didac-crst/mockexchange-api/pkg/concurrency"
	"github.com/didac-crst/mockexchange-api/pkg/liveserver"
	"github.com/didac-crst/mockexchange-api/pkg/logging"
)

var version = "dev"

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

const shutdownGrace = 15 * time.Second

func main() {
	flag.Parse()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	// Load configuration; a missing file is fine, env overrides still apply.
	cfg := config.DefaultConfig()
	if _, err := os.Stat(*configFile); err == nil {
		loaded, err := config.LoadConfig(*configFile)
		if err != nil {
			logging.Fatal("Failed to load config file", "path", *configFile, "error", err)
		}
		cfg = loaded
	} else {
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			logging.Fatal("Invalid configuration", "error", err)
		}
	}

	logger, err := logging.NewZapLogger(cfg.Log.Level)
	if err != nil {
		logging.Fatal("Failed to initialize logger", "error", err)
	}
	defer logger.Sync()
	logging.SetGlobalLogger(logger)

	logger.Info("Starting mockexchange",
		"version", version,
		"addr", cfg.Server.Addr,
		"cash_asset", cfg.Exchange.CashAsset)

	tel, err := telemetry.Setup("mockexchange")
	if err != nil {
		logger.Fatal("Failed to set up telemetry", "error", err)
	}
	metrics := telemetry.GetMetrics()

	st, err := store.NewRedisStore(cfg.Store.RedisURL, store.Options{
		RetryMaxAttempts:    cfg.Store.RetryMaxAttempts,
		RetryInitialBackoff: cfg.Store.RetryInitialBackoff(),
		RetryMaxBackoff:     cfg.Store.RetryMaxBackoff(),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to store", "error", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := st.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Fatal("Store is unreachable", "redis_url", "redacted", "error", err)
	}
	pingCancel()

	mkt := market.New(st, logger)
	book := orderbook.New(st, cfg.Store.LockTTL(), logger)
	ledger := portfolio.New(st, cfg.Store.LockTTL(), logger)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "MarketOrderPool",
		MaxWorkers:  16,
		MaxCapacity: 4096,
	}, logger)

	hub := liveserver.NewHub(logger)

	eng := engine.New(mkt, book, ledger, cfg.Exchange, logger,
		engine.WithPool(pool),
		engine.WithHub(hub),
		engine.WithMetrics(metrics),
	)

	alerts := alert.NewFromConfig(cfg.Alerts, logger)

	sched := scheduler.New(st, eng, alerts, scheduler.FromLoops(cfg.Loops), logger)

	reg := health.NewRegistry()
	reg.Register("store", func(ctx context.Context) error { return st.Ping(ctx) })

	server := api.NewServer(cfg.Server, api.Deps{
		Engine:  eng,
		Market:  mkt,
		Ledger:  ledger,
		Health:  reg,
		Hub:     hub,
		Metrics: metrics,
		Logger:  logger,
		Version: version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	sched.Start(gctx)

	g.Go(server.Run)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", "error", err)
		}
		sched.Stop()
		pool.Stop()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown failed", "error", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("Store close failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("Server exited with error", "error", err)
	}
	logger.Info("Shutdown complete")
}
