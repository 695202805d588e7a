package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/natalfamilia/natal-backend/internal/app"
	"github.com/natalfamilia/natal-backend/internal/cron"
	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db"
	"github.com/natalfamilia/natal-backend/pkg/instance"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/metrics"
	"github.com/natalfamilia/natal-backend/pkg/migrate"
	"github.com/natalfamilia/natal-backend/pkg/redis"
)

const lockKeyFormat = "natal:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	domain, err := app.NewDomain(cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire domain services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, domain)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Sweep.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.ID(),
		"serviceKind": cfg.Service.Kind,
	})

	if cfg.App.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer); err != nil {
				logg.Error(ctx, "metrics listener stopped", err)
			}
		}()
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, domain *app.Domain) (*cron.Registry, error) {
	sweep, err := cron.NewPendingSweepJob(cron.PendingSweepJobParams{
		Logger:   logg,
		Orders:   domain.OrderRepo,
		Payments: domain.Gateway,
		Queue:    domain.Queue,
		Config:   cfg.Sweep,
	})
	if err != nil {
		return nil, fmt.Errorf("pending sweep job: %w", err)
	}
	taskRetention, err := cron.NewRetentionJob("notification-retention", domain.Tasks.DeleteTerminalBefore, cfg.Sweep.RetentionDays, logg)
	if err != nil {
		return nil, fmt.Errorf("notification retention job: %w", err)
	}
	outboxRetention, err := cron.NewRetentionJob("outbox-retention", domain.Outbox.DeletePublishedBefore, cfg.Outbox.RetentionDays, logg)
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	return cron.NewRegistry(sweep, taskRetention, outboxRetention), nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
