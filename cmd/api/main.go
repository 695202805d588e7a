package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/natalfamilia/natal-backend/api/routes"
	"github.com/natalfamilia/natal-backend/internal/app"
	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db"
	"github.com/natalfamilia/natal-backend/pkg/instance"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/metrics"
	"github.com/natalfamilia/natal-backend/pkg/migrate"
	"github.com/natalfamilia/natal-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

type closer interface {
	Close() error
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	var closers []closer
	defer func() {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Append(errs, closers[i].Close())
		}
		if errs != nil {
			logg.Error(context.Background(), "error closing resources", errs)
		}
	}()

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	closers = append(closers, dbClient)

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	domain, err := app.NewDomain(cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire domain services", err)
		os.Exit(1)
	}

	deps := routes.Deps{
		Orders:   domain.Orders,
		Queue:    domain.Queue,
		Tasks:    domain.Tasks,
		DB:       dbClient,
		Gatherer: prometheus.DefaultGatherer,
		HTTP:     metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
	}

	// Cache and Redis stay nil interfaces without Redis so rate limits and
	// replay are skipped rather than failing every request.
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		closers = append(closers, redisClient)
		deps.Cache = redisClient
		deps.Redis = redisClient
	} else {
		logg.Warn(context.Background(), "redis not configured; rate limiting and idempotent replay disabled")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"instance":    instance.ID(),
		"serviceKind": cfg.Service.Kind,
	})

	dispatcherDone := make(chan struct{})
	if cfg.FeatureFlags.EmbeddedWorker {
		go func() {
			defer close(dispatcherDone)
			logg.Info(ctx, "starting embedded notification dispatcher")
			if err := domain.Dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "embedded dispatcher stopped unexpectedly", err)
			}
		}()
	} else {
		close(dispatcherDone)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			stop()
			<-dispatcherDone
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}

	stop()
	<-dispatcherDone
	logg.Info(ctx, "api server shut down gracefully")
}
