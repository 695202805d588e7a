package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/natalfamilia/natal-backend/api/responses"
	"github.com/natalfamilia/natal-backend/pkg/config"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/logger"
)

const (
	readinessTimeout = 2 * time.Second
	envHeader        = "X-Natal-Env"
)

// Pinger is any dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and reports which ones are down.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(deps))
	for name, dep := range deps {
		if dep != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := make(map[string]string, len(names))
		var failed error
		for _, name := range names {
			if err := deps[name].Ping(ctx); err != nil {
				checks[name] = "down"
				if failed == nil {
					failed = err
				}
				continue
			}
			checks[name] = "up"
		}
		if failed != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeDependency, failed, "dependency unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
