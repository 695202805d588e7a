package middleware

import (
	"net/http"

	"github.com/natalfamilia/natal-backend/api/responses"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/logger"
)

// RequireRole admits requests whose authenticated role is one of roles.
func RequireRole(logg *logger.Logger, roles ...enums.OperatorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current := enums.OperatorRole(RoleFromContext(r.Context()))
			for _, role := range roles {
				if current == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
		})
	}
}
