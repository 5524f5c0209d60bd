package middleware

import (
	"errors"
	"net/http"

	"github.com/pulse/internal/credential"
	"github.com/pulse/internal/logger"
)

// Authenticate resolves the caller through verifier and stores the user id in
// the request context. Requests without valid credentials get 401.
func Authenticate(verifier credential.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := verifier.Verify(r)
			if err != nil {
				if !errors.Is(err, credential.ErrNoCredentials) {
					logger.Warnf("auth rejected %s %s: %v", r.Method, r.URL.Path, err)
				}
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}
