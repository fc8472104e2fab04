// Command worker runs the background daemons that keep dispatched jobs
// moving to a terminal state: the results consumer that settles completed
// jobs, the outbox publisher that redelivers rows a direct publish could not
// confirm, and the sweeper that refunds jobs stuck pending past their max
// age.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creditdispatch/inference-broker/internal/adapter/bus/amqp"
	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
	"github.com/creditdispatch/inference-broker/internal/adapter/repo/postgres"
	"github.com/creditdispatch/inference-broker/internal/app"
	"github.com/creditdispatch/inference-broker/internal/config"
	"github.com/creditdispatch/inference-broker/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	ledgerStore := postgres.NewLedgerStore(pool)
	outboxRepo := postgres.NewOutboxRepo(pool)
	uow := postgres.NewUnitOfWork(pool)

	busClient, err := amqp.NewClient(ctx, cfg)
	if err != nil {
		slog.Error("bus connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := busClient.Close(); err != nil {
			slog.Error("failed to close bus client", slog.Any("error", err))
		}
	}()

	settlement := usecase.NewSettlementService(uow)

	slog.Info("starting results consumer")
	go func() {
		if err := busClient.ConsumeResults(ctx, settlement.Settle); err != nil && ctx.Err() == nil {
			slog.Error("results consumer stopped", slog.Any("error", err))
		}
	}()

	outboxPublisher := app.NewOutboxPublisher(outboxRepo, busClient, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go outboxPublisher.Run(ctx)

	sweeper := app.NewPendingJobSweeper(ledgerStore, settlement, cfg.SweeperPendingMaxAge, cfg.SweeperInterval)
	go sweeper.Run(ctx)

	slog.Info("worker started successfully, waiting for shutdown signal")
	<-ctx.Done()
	slog.Info("signal received, shutting down")
	slog.Info("worker stopped")
}
