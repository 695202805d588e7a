package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/natalfamilia/natal-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger     *logger.Logger
	DB         pinger
	Redis      pinger
	PubSub     pinger
	BigQuery   pinger
	Dispatcher runner
	// OrderEvents is optional; it runs only when an orders subscription is configured.
	OrderEvents runner
}

// Service runs the notification dispatcher and, when configured, the order
// events consumer. The first loop to fail stops the worker.
type Service struct {
	logg        *logger.Logger
	db          pinger
	redis       pinger
	pubsub      pinger
	bigquery    pinger
	dispatcher  runner
	orderEvents runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("notification dispatcher is required")
	}
	if params.OrderEvents != nil && params.PubSub == nil {
		return nil, errors.New("pubsub client is required for the order events consumer")
	}
	return &Service{
		logg:        params.Logger,
		db:          params.DB,
		redis:       params.Redis,
		pubsub:      params.PubSub,
		bigquery:    params.BigQuery,
		dispatcher:  params.Dispatcher,
		orderEvents: params.OrderEvents,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if s.redis != nil {
		if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
			return err
		}
	}
	if s.pubsub != nil {
		if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
			return err
		}
	}
	if s.bigquery != nil {
		if err := pingDependency(ctx, s.logg, "bigquery", s.bigquery.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	loops := 1
	errCh := make(chan error, 2)
	go func() {
		errCh <- s.dispatcher.Run(runCtx)
	}()
	if s.orderEvents != nil {
		loops++
		go func() {
			errCh <- s.orderEvents.Run(runCtx)
		}()
	}

	err := <-errCh
	cancel()
	// Wait for the remaining loops so shutdown does not race pending writes.
	for i := 1; i < loops; i++ {
		<-errCh
	}

	if ctx.Err() != nil {
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "worker loop stopped unexpectedly", err)
	}
	return err
}
