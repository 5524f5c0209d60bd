package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/storage"
)

// RateLimit allows max requests per window for each key. The key is the
// authenticated user when known and the client IP otherwise. Limiter errors
// let the request through.
func RateLimit(limiter storage.RateLimiter, scope string, max int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || max <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":ip:" + clientIP(r)
			if userID := GetUserID(r.Context()); userID != "" {
				key = scope + ":u:" + userID
			}
			ctx, cancel := context.WithTimeout(r.Context(), time.Second)
			ok, err := limiter.Allow(ctx, key, max, window)
			cancel()
			if err != nil {
				logger.Errorf("rate limit key=%s: %v", key, err)
				ok = true
			}
			if !ok {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
