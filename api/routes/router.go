package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/natalfamilia/natal-backend/api/controllers"
	"github.com/natalfamilia/natal-backend/api/middleware"
	"github.com/natalfamilia/natal-backend/internal/orders"
	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	"github.com/natalfamilia/natal-backend/pkg/metrics"
	pkgredis "github.com/natalfamilia/natal-backend/pkg/redis"
)

// CacheStore is the Redis surface behind rate limits and idempotent replay.
type CacheStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

var _ CacheStore = (*pkgredis.Client)(nil)

// Deps are the services the HTTP surface is wired to. Cache and the pingers
// may be nil (a nil interface, not a typed nil); the matching middleware or
// check is then skipped.
type Deps struct {
	Orders   orders.Service
	Queue    controllers.HintQueue
	Tasks    controllers.TaskReader
	Cache    CacheStore
	DB       controllers.Pinger
	Redis    controllers.Pinger
	Gatherer prometheus.Gatherer
	HTTP     *metrics.HTTPMetrics
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTP),
		middleware.SecurityHeaders(cfg.App.IsProd()),
		middleware.CORS(cfg.CORS.Origins(!cfg.App.IsProd())),
		middleware.BodyLimit(cfg.App.MaxBodyBytes),
	)

	general := middleware.RateLimit(middleware.NewRateLimitPolicy("general", cfg.RateLimit.GeneralWindow, cfg.RateLimit.GeneralLimit,
		"too many requests from this IP, try again later"), deps.Cache, logg)
	create := middleware.RateLimit(middleware.NewRateLimitPolicy("create", cfg.RateLimit.CreateWindow, cfg.RateLimit.CreateLimit,
		"too many orders created, try again in a few minutes"), deps.Cache, logg)
	webhook := middleware.RateLimit(middleware.NewRateLimitPolicy("webhook", cfg.RateLimit.WebhookWindow, cfg.RateLimit.WebhookLimit,
		""), deps.Cache, logg)

	readyDeps := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readyDeps["db"] = deps.DB
	}
	if deps.Redis != nil {
		readyDeps["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readyDeps))
	})
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		// The webhook has its own, looser budget; the gateway may burst.
		r.With(webhook).Post("/webhook", controllers.PaymentWebhook(deps.Queue, cfg.MercadoPago.WebhookSecret, logg))

		r.Group(func(r chi.Router) {
			r.Use(general)

			r.Group(func(r chi.Router) {
				r.Use(create)
				r.Use(middleware.Idempotency(deps.Cache, logg))
				r.Post("/create", controllers.CreateOrder(deps.Orders, logg))
				r.Post("/orders", controllers.CreateOrder(deps.Orders, logg))
			})

			for _, prefix := range []string{"/order", "/site"} {
				r.Get(prefix+"/{id}", controllers.GetSite(deps.Orders, logg))
				r.Get(prefix+"/{id}/status", controllers.GetStatus(deps.Orders, logg))
			}
		})

		if cfg.FeatureFlags.OpsRoutes {
			r.Route("/ops", func(r chi.Router) {
				r.Use(middleware.OpsAuth(cfg.JWT, logg))
				r.With(middleware.RequireRole(logg, enums.OperatorRoleOps, enums.OperatorRoleViewer)).
					Get("/notifications", controllers.OpsListNotifications(deps.Tasks, logg))
				r.With(middleware.RequireRole(logg, enums.OperatorRoleOps, enums.OperatorRoleViewer)).
					Get("/notifications/{id}", controllers.OpsGetNotification(deps.Tasks, logg))

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(logg, enums.OperatorRoleOps))
					r.Post("/notifications/replay", controllers.OpsReplayNotification(deps.Queue, logg))
					r.Post("/orders/{id}/approve", controllers.OpsForceApprove(deps.Orders, logg))
				})
			})
		}
	})

	return r
}
