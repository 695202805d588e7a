package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/natalfamilia/natal-backend/api/responses"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/logger"
	pkgredis "github.com/natalfamilia/natal-backend/pkg/redis"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	defaultIdempotencyTTL  = 24 * time.Hour
	inFlightTTL            = 2 * time.Minute
	maxIdempotencyKeyBytes = 128
)

type idempotencyRule struct {
	method  string
	pattern string
	ttl     time.Duration
}

// Only order creation is replayable; everything else is a read or the
// webhook, which has its own duplicate suppression.
var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, pattern: "/api/create", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, pattern: "/api/orders", ttl: defaultIdempotencyTTL},
}

// idempotencyRecord is either a reservation (InFlight) taken before the
// handler runs or the stored 2xx response.
type idempotencyRecord struct {
	InFlight    bool              `json:"in_flight,omitempty"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

var (
	errKeyInFlight = pkgerrors.New(pkgerrors.CodeConflict, "a request with this Idempotency-Key is still being processed")
	errKeyReused   = pkgerrors.New(pkgerrors.CodeConflict, "Idempotency-Key reused with a different request body")
)

// Idempotency makes order creation safe to retry. The first request with a
// given Idempotency-Key reserves it, so a double submit cannot create two
// orders; a 2xx response replaces the reservation and is replayed to later
// retries, anything else releases it. The header is optional, and Redis
// errors let the request through.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, routePattern(r))
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if !ok || store == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(key) > maxIdempotencyKeyBytes {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			storeKey := store.IdempotencyKey(buildScope(r), key)

			reserved, err := reserve(ctx, store, storeKey, requestHash)
			if err != nil {
				warn(ctx, logg, "idempotency.store_unavailable", err)
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				replayOrReject(ctx, store, storeKey, requestHash, w, logg, func() { next.ServeHTTP(w, r) })
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := defaultStatus(rec.status)
			if status < 200 || status > 299 {
				if err := store.Del(ctx, storeKey); err != nil {
					warn(ctx, logg, "idempotency.release_failed", err)
				}
				return
			}
			record := idempotencyRecord{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: requestHash,
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}
			payload, _ := json.Marshal(record)
			if err := store.Set(ctx, storeKey, string(payload), ttl); err != nil {
				warn(ctx, logg, "idempotency.persist_failed", err)
			}
		})
	}
}

func reserve(ctx context.Context, store pkgredis.IdempotencyStore, key, requestHash string) (bool, error) {
	payload, _ := json.Marshal(idempotencyRecord{InFlight: true, RequestHash: requestHash})
	return store.SetNX(ctx, key, string(payload), inFlightTTL)
}

// replayOrReject handles a key that is already taken. A record that vanished
// or cannot be read sends the request through.
func replayOrReject(ctx context.Context, store pkgredis.IdempotencyStore, key, requestHash string, w http.ResponseWriter, logg *logger.Logger, passThrough func()) {
	stored, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			warn(ctx, logg, "idempotency.store_unavailable", err)
		}
		passThrough()
		return
	}
	record, err := decodeRecord(stored)
	if err != nil {
		warn(ctx, logg, "idempotency.record_corrupt", err)
		passThrough()
		return
	}
	switch {
	case record.RequestHash != requestHash:
		responses.WriteError(ctx, logg, w, errKeyReused)
	case record.InFlight:
		responses.WriteError(ctx, logg, w, errKeyInFlight)
	default:
		w.Header().Set("Idempotent-Replayed", "true")
		writeStoredResponse(w, record)
	}
}

func buildScope(r *http.Request) string {
	return strings.Join([]string{r.Method, r.URL.Path, clientIP(r)}, "|")
}

func decodeRecord(payload string) (*idempotencyRecord, error) {
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func writeStoredResponse(w http.ResponseWriter, record *idempotencyRecord) {
	if ct, ok := record.Headers["Content-Type"]; ok && ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func defaultStatus(value int) int {
	if value == 0 {
		return http.StatusOK
	}
	return value
}

func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.pattern == pattern {
			return rule.ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func warn(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Warn(logg.WithField(ctx, "error", err.Error()), msg)
}
