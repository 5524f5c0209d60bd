package middleware

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"

	"github.com/pulse/internal/logger"
)

// headerTracker remembers whether a status line went out, including through a
// hijacked connection, so a late panic does not write into an upgraded socket.
type headerTracker struct {
	http.ResponseWriter
	sent bool
}

func (w *headerTracker) WriteHeader(code int) {
	if w.sent {
		return
	}
	w.sent = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *headerTracker) Write(b []byte) (int, error) {
	w.sent = true
	return w.ResponseWriter.Write(b)
}

func (w *headerTracker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.sent = true
	return h.Hijack()
}

// RecoverJSON turns a handler panic into {"error": "internal server error"}
// with status 500. http.ErrAbortHandler is re-raised for net/http to handle.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &headerTracker{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Errorf("panic recovered %s %s user=%s: %v", r.Method, r.URL.Path, GetUserID(r.Context()), rec)
			if tw.sent {
				return
			}
			tw.Header().Set("Content-Type", "application/json; charset=utf-8")
			tw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(tw).Encode(map[string]string{"error": "internal server error"})
		}()
		next.ServeHTTP(tw, r)
	})
}
