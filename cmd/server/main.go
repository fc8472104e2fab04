// Command server runs the HTTP dispatch/admin API: submitAsync, submitRPC,
// replenishmentRequest, and the operator admin surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/creditdispatch/inference-broker/internal/adapter/bus/amqp"
	"github.com/creditdispatch/inference-broker/internal/adapter/httpserver"
	"github.com/creditdispatch/inference-broker/internal/adapter/observability"
	"github.com/creditdispatch/inference-broker/internal/adapter/repo/postgres"
	"github.com/creditdispatch/inference-broker/internal/app"
	"github.com/creditdispatch/inference-broker/internal/config"
	"github.com/creditdispatch/inference-broker/internal/service/modelseed"
	"github.com/creditdispatch/inference-broker/internal/service/ratelimiter"
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

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting server", slog.String("env", cfg.AppEnv), slog.Int("port", cfg.Port))

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	ledgerStore := postgres.NewLedgerStore(pool)
	modelRepo := postgres.NewModelRepo(pool)
	uow := postgres.NewUnitOfWork(pool)

	if err := modelseed.LoadAndSeed(ctx, cfg.ModelSeedPath, modelRepo); err != nil {
		slog.Error("model catalog seed failed", slog.Any("error", err))
		os.Exit(1)
	}

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

	rdb := redis.NewClient(&redis.Options{Addr: parseRedisAddr(cfg.RedisURL)})
	defer rdb.Close()
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, map[string]ratelimiter.BucketConfig{
		"replenish": ratelimiter.NewBucketConfigFromPerMinute(cfg.ReplenishPerMinute),
	})

	dispatch := usecase.NewDispatchOrchestrator(ledgerStore, uow, busClient, modelRepo, cfg)
	settlement := usecase.NewSettlementService(uow)
	admin := usecase.NewAdminService(uow, ledgerStore)
	replenish := usecase.NewReplenishmentService(uow, limiter, cfg)

	retention := postgres.NewRetentionService(pool, cfg.JournalRetentionDays)
	go retention.RunPeriodic(ctx, cfg.CleanupInterval)

	dbCheck, busCheck := app.BuildReadinessChecks(pool, busClient)
	srv := httpserver.NewServer(cfg, dispatch, settlement, admin, replenish, dbCheck, busCheck)
	router := app.BuildRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.Any("error", err))
	}
	slog.Info("server stopped")
}

// parseRedisAddr strips a redis:// scheme and path down to the host:port
// form go-redis's Options.Addr expects. The URL's auth and db-index segments
// are dropped, and the client is built with Addr only, so it connects
// without a password to the default database.
func parseRedisAddr(url string) string {
	const prefix = "redis://"
	s := url
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		s = s[len(prefix):]
	}
	if i := indexByte(s, '@'); i >= 0 {
		s = s[i+1:]
	}
	if i := indexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "localhost:6379"
	}
	return s
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
