package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pulse/internal/logger"
)

// RequestLog times every request through the async logger. Slow requests are
// reported with their status; 5xx responses are always logged as errors.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := "upgraded"
		if code := ww.Status(); code != 0 {
			status = strconv.Itoa(code)
			if code >= http.StatusInternalServerError {
				logger.Errorf("http %s %s status=%d bytes=%d duration_ms=%d",
					r.Method, r.URL.Path, code, ww.BytesWritten(), time.Since(start).Milliseconds())
				return
			}
		}
		logger.LogDuration("http "+r.Method+" "+r.URL.Path+" status="+status, start)
	})
}
