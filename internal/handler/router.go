package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pulse/internal/credential"
	"github.com/pulse/internal/middleware"
	"github.com/pulse/internal/storage"
)

// Routes is everything the api router dispatches to.
type Routes struct {
	Messages *MessageHandler
	Users    *UserHandler
	Files    *FileHandler
	Config   *ConfigHandler
	WS       *WSHandler

	Verifier       credential.Verifier
	Limiter        storage.RateLimiter
	SendPerMin     int
	AllowedOrigins []string
}

// NewRouter assembles the api routes. The WebSocket endpoint sits outside the
// credential check: a socket without identity is accepted and left untracked.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Compressing the upgrade response breaks http.Hijacker.
	r.Use(func(next http.Handler) http.Handler {
		compress := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compress.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config", rt.Config.GetClientConfig)
	r.Get("/api/files/{filename}", rt.Files.Serve)
	r.Get("/ws", rt.WS.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.Verifier))
		r.Get("/api/auth/check", rt.Users.CheckAuth)
		r.Put("/api/auth/update-profile", rt.Users.UpdateProfile)
		r.Get("/api/users/online", rt.Users.GetOnlineUsers)
		r.Get("/api/messages/users", rt.Messages.GetContacts)
		r.Get("/api/messages/{id}", rt.Messages.GetMessages)
		r.Post("/api/messages/{id}/read", rt.Messages.MarkRead)
		r.With(middleware.RateLimit(rt.Limiter, "send", rt.SendPerMin, time.Minute)).
			Post("/api/messages/send/{id}", rt.Messages.SendMessage)
	})
	return r
}
