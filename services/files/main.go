// Files service: stores uploaded media and serves it back.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pulse/internal/config"
	"github.com/pulse/internal/fileserver"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/middleware"
)

func main() {
	logger.SetPrefix("files")
	cfg := config.LoadFiles()
	logger.SetLevel(cfg.LogLevel)
	logger.Infof("starting files service: upload_dir=%s max_upload_mb=%d", cfg.UploadDir, cfg.MaxUploadSize>>20)

	files := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      newRouter(files, cfg.InternalSecret),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("files listening on %s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("files server: %v", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("files shutdown: %v", err)
	}
	logger.Info("files service stopped")
}

// newRouter mounts upload for the api process and read access for browsers.
// Stored names are served under both /files/ and the public /api/files/ prefix.
func newRouter(files *fileserver.Service, secret string) http.Handler {
	serve := func(w http.ResponseWriter, r *http.Request) {
		files.Serve(w, r, chi.URLParam(r, "filename"))
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.With(middleware.InternalOnly(secret)).Post("/upload", files.Upload)
	r.Get("/files/{filename}", serve)
	r.Get(fileserver.PublicPrefix+"{filename}", serve)
	return r
}
