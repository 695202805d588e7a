package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
)

// ParseUUIDParam reads a chi URL parameter as a uuid; malformed ids are a
// VALIDATION_ERROR so they never reach the store.
func ParseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "missing id").WithDetails(map[string]any{"field": name})
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid id").WithDetails(map[string]any{"field": name})
	}
	return id, nil
}

// ParseLimit reads ?limit=. Missing means fallback, anything above max is
// clamped, and non-numeric or non-positive values are rejected.
func ParseLimit(r *http.Request, fallback, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer").WithDetails(map[string]any{"field": "limit"})
	}
	return min(n, max), nil
}
