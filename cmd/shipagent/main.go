// Command shipagent starts the batch shipment-processing HTTP server: it
// spawns the data-source and carrier subprocesses, wires the Batch
// Orchestration Engine, resumes any job a prior crash left running, and
// serves the REST/SSE surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	interpreterclient "github.com/matt-hans/shipagent/internal/adapter/interpreter"

	httpserver "github.com/matt-hans/shipagent/internal/adapter/httpserver"
	"github.com/matt-hans/shipagent/internal/app"
	"github.com/matt-hans/shipagent/internal/batch"
	"github.com/matt-hans/shipagent/internal/carrier"
	"github.com/matt-hans/shipagent/internal/config"
	"github.com/matt-hans/shipagent/internal/coordinator"
	"github.com/matt-hans/shipagent/internal/datagateway"
	"github.com/matt-hans/shipagent/internal/eventbus"
	"github.com/matt-hans/shipagent/internal/filter"
	"github.com/matt-hans/shipagent/internal/observability"
	"github.com/matt-hans/shipagent/internal/store/sqlite"
	"github.com/matt-hans/shipagent/internal/subprocess"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	store, err := sqlite.Open(cfg.StoreDSN)
	if err != nil {
		slog.Error("store open failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	dataSourceSupervisor := subprocess.New(subprocess.Config{
		Name:            "datasource",
		Command:         cfg.DataSourceCommand,
		Env:             os.Environ(),
		StartTimeout:    cfg.SubprocessStartTimeout,
		ShutdownTimeout: cfg.SubprocessShutdownTimeout,
	})
	if err := dataSourceSupervisor.Start(ctx); err != nil {
		slog.Error("data source subprocess start failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = dataSourceSupervisor.Shutdown(context.Background()) }()

	carrierSupervisor := subprocess.New(subprocess.Config{
		Name:    "carrier",
		Command: cfg.CarrierCommand,
		Env: []string{
			"CARRIER_CLIENT_ID=" + cfg.CarrierClientID,
			"CARRIER_CLIENT_SECRET=" + cfg.CarrierClientSecret,
			"CARRIER_ACCOUNT_NUMBER=" + cfg.CarrierAccountNumber,
			"CARRIER_BASE_URL=" + cfg.CarrierBaseURL,
		},
		StartTimeout:    cfg.SubprocessStartTimeout,
		ShutdownTimeout: cfg.SubprocessShutdownTimeout,
	})
	if err := carrierSupervisor.Start(ctx); err != nil {
		slog.Error("carrier subprocess start failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = carrierSupervisor.Shutdown(context.Background()) }()

	gateway := datagateway.New(dataSourceSupervisor)

	maxRetries, initialInterval, multiplier := cfg.GetCarrierBackoffConfig()
	carrierOpts := []carrier.Option{
		carrier.WithObserver(observability.CarrierObserver{}),
		carrier.WithBackoff(maxRetries, initialInterval, multiplier),
		carrier.WithLimiter(rate.NewLimiter(rate.Limit(cfg.CarrierRateLimitPerSec), cfg.CarrierRateLimitBurst)),
	}
	if cfg.RedisAddr != "" && cfg.CarrierQuotaPerDay > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		carrierOpts = append(carrierOpts, carrier.WithQuota(carrier.NewRedisDailyQuota(rdb, int64(cfg.CarrierQuotaPerDay))))
	}
	carrierClient := carrier.NewClient(carrierSupervisor, carrierOpts...)

	bus := eventbus.New()

	compiler, err := filter.NewCompiler([]byte(cfg.FilterTokenSecret))
	if err != nil {
		slog.Error("filter compiler init failed", slog.Any("error", err))
		os.Exit(1)
	}

	engine := batch.NewEngine(store, gateway, carrierClient, bus, compiler,
		batch.WithConcurrency(cfg.BatchConcurrency),
		batch.WithPreviewMaxRows(cfg.BatchPreviewMaxRows),
		batch.WithLabelsDir(cfg.LabelsOutputDir),
		batch.WithInternationalLaneCheck(cfg.InternationalLaneAllowed),
	)

	co := coordinator.New(store, gateway, engine, compiler, bus)

	if err := co.Bootstrap(ctx); err != nil {
		slog.Error("crash-recovery bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	retentionSweeper := &sqlite.RetentionSweeper{
		Store:         store,
		RetentionDays: cfg.DataRetentionDays,
		Interval:      cfg.CleanupInterval,
	}
	go retentionSweeper.Run(ctx)

	stuckSweeper := app.NewStuckJobSweeper(store, 0, 0)
	if stuckSweeper != nil {
		go stuckSweeper.Run(ctx)
	}

	dataSourceCheck, carrierCheck, storeCheck := app.BuildReadinessChecks(store, dataSourceSupervisor, carrierSupervisor)

	interp := interpreterclient.New(cfg)

	srv := httpserver.NewServer(cfg, co, store, bus, interp)
	srv.DataSourceReady = dataSourceCheck
	srv.CarrierReady = carrierCheck
	srv.StoreReady = storeCheck

	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
