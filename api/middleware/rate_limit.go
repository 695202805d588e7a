package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/natalfamilia/natal-backend/api/responses"
	pkgerrors "github.com/natalfamilia/natal-backend/pkg/errors"
	"github.com/natalfamilia/natal-backend/pkg/logger"
)

type rateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy is a fixed window per client IP.
type RateLimitPolicy struct {
	name    string
	window  time.Duration
	limit   int
	message string
}

func NewRateLimitPolicy(name string, window time.Duration, limit int, message string) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "general"
	}
	if message == "" {
		message = "too many requests, try again later"
	}
	return RateLimitPolicy{name: name, window: window, limit: limit, message: message}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && p.limit > 0
}

// RateLimit rejects clients that exceed policy with 429. When the counter
// store is down requests pass: losing a gateway notification costs more than
// a burst of traffic.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)

			allowed, count, err := store.FixedWindowAllow(ctx, policy.name+":"+ip, int64(policy.limit), policy.window)
			if err != nil {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"policy": policy.name,
						"error":  err.Error(),
					}), "rate_limit.store_unavailable")
				}
				next.ServeHTTP(w, r)
				return
			}

			remaining := int64(policy.limit) - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("RateLimit-Limit", strconv.Itoa(policy.limit))
			w.Header().Set("RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(policy.window.Seconds())))
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"policy":         policy.name,
						"ip":             ip,
						"attempts":       count,
						"limit":          policy.limit,
						"window_seconds": int(policy.window.Seconds()),
					}), "rate_limit.blocked")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, policy.message))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
