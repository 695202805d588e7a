package middleware

import (
	"net/http"
	"time"

	"github.com/natalfamilia/natal-backend/pkg/logger"
)

// Logging writes one line per request after it completes, at warn for 5xx.
// The route pattern is logged next to the path so site ids can be grouped.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":    r.Method,
				"path":      r.URL.Path,
				"client_ip": clientIP(r),
			})
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			began := time.Now()
			r = r.WithContext(ctx)
			next.ServeHTTP(sw, r)

			ctx = logg.WithFields(ctx, map[string]any{
				"route":       routePattern(r),
				"status":      sw.status,
				"bytes":       sw.bytes,
				"duration_ms": time.Since(began).Milliseconds(),
			})
			if sw.status >= http.StatusInternalServerError {
				logg.Warn(ctx, "request.complete")
				return
			}
			logg.Info(ctx, "request.complete")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int
}

func (s *statusWriter) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status, s.wroteHeader = code, true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	s.wroteHeader = true
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}
