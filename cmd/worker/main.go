package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/natalfamilia/natal-backend/internal/app"
	"github.com/natalfamilia/natal-backend/internal/orderevents"
	"github.com/natalfamilia/natal-backend/pkg/bigquery"
	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db"
	"github.com/natalfamilia/natal-backend/pkg/instance"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/metrics"
	"github.com/natalfamilia/natal-backend/pkg/migrate"
	"github.com/natalfamilia/natal-backend/pkg/outbox/registry"
	"github.com/natalfamilia/natal-backend/pkg/pubsub"
	"github.com/natalfamilia/natal-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
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

	domain, err := app.NewDomain(cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire domain services", err)
		os.Exit(1)
	}

	params := ServiceParams{
		Logger:     logg,
		DB:         dbClient,
		Dispatcher: domain.Dispatcher,
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		params.Redis = redisClient
	}

	if cfg.PubSub.OrdersSubscription != "" {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()

		eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
		if err != nil {
			logg.Error(context.Background(), "failed to build event registry", err)
			os.Exit(1)
		}
		consumerParams := orderevents.ConsumerParams{
			Subscription: pubsubClient.OrdersSubscription(),
			Registry:     eventRegistry,
			Logger:       logg,
			Metrics:      metrics.NewOrderEventMetrics(prometheus.DefaultRegisterer),
		}
		if cfg.BigQuery.Enabled() {
			bqClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
			if err != nil {
				logg.Error(context.Background(), "failed to bootstrap bigquery", err)
				os.Exit(1)
			}
			defer func() {
				if err := bqClient.Close(); err != nil {
					logg.Error(context.Background(), "error closing bigquery client", err)
				}
			}()
			if err := bqClient.EnsureTable(context.Background(), orderevents.OrderEventsTable(cfg.BigQuery.OrderEventsTable)); err != nil {
				logg.Error(context.Background(), "failed to prepare bigquery table", err)
				os.Exit(1)
			}
			analytics, err := orderevents.NewAnalyticsHandler(orderevents.AnalyticsParams{
				Inserter:    bqClient,
				Table:       cfg.BigQuery.OrderEventsTable,
				MaxAttempts: cfg.BigQuery.MaxAttempts,
			})
			if err != nil {
				logg.Error(context.Background(), "failed to create analytics handler", err)
				os.Exit(1)
			}
			consumerParams.Handler = orderevents.Fanout(orderevents.NewAuditHandler(logg), analytics)
			params.BigQuery = bqClient
		}
		if redisClient != nil {
			consumerParams.Dedupe = redisClient
		} else {
			logg.Warn(context.Background(), "redis disabled; order events are consumed without dedupe")
		}
		consumer, err := orderevents.NewConsumer(consumerParams)
		if err != nil {
			logg.Error(context.Background(), "failed to create order events consumer", err)
			os.Exit(1)
		}
		params.PubSub = pubsubClient
		params.OrderEvents = consumer
	}

	service, err := NewService(params)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker", err)
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

	logg.Info(ctx, "starting worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "worker shutting down gracefully")
}
