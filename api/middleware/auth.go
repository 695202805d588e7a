package middleware

import (
	"net/http"
	"strings"

	"github.com/natalfamilia/natal-backend/api/responses"
	pkgauth "github.com/natalfamilia/natal-backend/pkg/auth"
	"github.com/natalfamilia/natal-backend/pkg/config"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/logger"
)

// OpsAuth validates an operator bearer token and seeds the request context
// with the operator and role.
func OpsAuth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "operator access disabled"))
				return
			}

			token := strings.TrimSpace(r.Header.Get("Authorization"))
			if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseOpsToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if claims.Subject == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing operator"))
				return
			}

			ctx := WithOperator(r.Context(), claims.Subject, string(claims.Role))
			if logg != nil {
				ctx = logg.WithActorRole(ctx, string(claims.Role))
				ctx = logg.WithField(ctx, "operator", claims.Subject)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
