package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/natalfamilia/natal-backend/internal/notifications"
	"github.com/natalfamilia/natal-backend/internal/orders"
	"github.com/natalfamilia/natal-backend/internal/reconcile"
	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/db"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/mercadopago"
	"github.com/natalfamilia/natal-backend/pkg/metrics"
	"github.com/natalfamilia/natal-backend/pkg/outbox"
)

// Domain is the object graph shared by the binaries: gateway client, order
// service, reconciliation engine and the notification queue.
type Domain struct {
	Gateway    *mercadopago.Client
	OrderRepo  orders.Repository
	Orders     orders.Service
	Outbox     *outbox.Repository
	Engine     *reconcile.Engine
	Tasks      *notifications.Repository
	Queue      *notifications.Queue
	Dispatcher *notifications.Dispatcher
	Metrics    *metrics.ReconcileMetrics
}

// NewDomain wires the domain services on top of an open database. Metrics
// are registered on reg; pass nil to skip registration.
func NewDomain(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer) (*Domain, error) {
	if cfg == nil || logg == nil || dbClient == nil {
		return nil, fmt.Errorf("config, logger and database are required")
	}

	gateway, err := mercadopago.NewFromConfig(cfg.MercadoPago)
	if err != nil {
		return nil, fmt.Errorf("mercadopago client: %w", err)
	}

	reconcileMetrics := metrics.NewReconcileMetrics(reg)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:     orderRepo,
		Tx:       dbClient,
		Outbox:   outbox.NewService(outboxRepo, logg),
		Gateway:  gateway,
		Checkout: orders.NewCheckoutSettings(cfg),
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Gateway:   gateway,
		Orders:    orderService,
		Tolerance: cfg.Pricing.Tolerance(),
		Logger:    logg,
		Metrics:   reconcileMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile engine: %w", err)
	}

	tasks := notifications.NewRepository(dbClient.DB())
	queue, err := notifications.NewQueue(tasks, logg, reconcileMetrics)
	if err != nil {
		return nil, fmt.Errorf("notification queue: %w", err)
	}

	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		DB:      dbClient,
		Store:   tasks,
		Engine:  engine,
		Config:  cfg.Reconcile,
		Logger:  logg,
		Metrics: reconcileMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("notification dispatcher: %w", err)
	}

	return &Domain{
		Gateway:    gateway,
		OrderRepo:  orderRepo,
		Orders:     orderService,
		Outbox:     outboxRepo,
		Engine:     engine,
		Tasks:      tasks,
		Queue:      queue,
		Dispatcher: dispatcher,
		Metrics:    reconcileMetrics,
	}, nil
}
