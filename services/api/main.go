package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulse/internal/config"
	"github.com/pulse/internal/credential"
	"github.com/pulse/internal/fileserver"
	"github.com/pulse/internal/handler"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/media"
	"github.com/pulse/internal/repository"
	"github.com/pulse/internal/service"
	"github.com/pulse/internal/startup"
	"github.com/pulse/internal/storage"
	"github.com/pulse/internal/storage/memory"
	"github.com/pulse/internal/ws"
	"github.com/pulse/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	inMemory := flag.Bool("memory", false, "keep users and messages in process memory")
	seed := flag.Bool("seed", false, "create demo users on start")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	var (
		messages storage.MessageStore
		users    storage.Directory
	)
	if *inMemory {
		mem := memory.New()
		messages, users = mem, mem
		logger.Info("using in-memory storage, data is lost on exit")
	} else {
		if *dev {
			var (
				embeddedDB *embeddedpostgres.EmbeddedPostgres
				err        error
			)
			embeddedDB, cfg.Database.URL, err = startup.StartEmbeddedPostgres()
			if err != nil {
				logger.Errorf("embedded postgres: %v", err)
				os.Exit(1)
			}
			defer func() {
				logger.Info("stopping embedded postgres...")
				if err := embeddedDB.Stop(); err != nil {
					logger.Errorf("embedded postgres stop: %v", err)
				}
			}()
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			logger.Errorf("parse db config: %v", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 2

		pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
		defer pool.Close()

		migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = startup.RunMigrations(migrateCtx, pool, migrations.Files)
		migrateCancel()
		if err != nil {
			logger.Errorf("migrations: %v", err)
			os.Exit(1)
		}
		if *migrate && !*dev {
			return
		}
		logger.Info("database connected, migrations applied")
		messages = repository.NewMessageRepository(pool)
		users = repository.NewUserRepository(pool)
	}

	if *seed {
		seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
		demo, err := startup.Seed(seedCtx, users)
		seedCancel()
		if err != nil {
			logger.Errorf("seed: %v", err)
			os.Exit(1)
		}
		for _, u := range demo {
			logger.Infof("demo user %s id=%s", u.Email, u.ID)
		}
	}

	limiter := startup.RateLimiter(cfg.RedisURL, 30*time.Second, "")
	defer limiter.Close()

	files := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize)
	var mediaStore media.Store
	if cfg.Media.ServiceURL == "" {
		mediaStore = media.NewLocal(files)
	} else {
		mediaStore = media.NewRemote(cfg.Media.ServiceURL, cfg.Media.PublicBaseURL, cfg.Media.InternalSecret, nil)
	}

	verifier := newVerifier(cfg.Auth)

	registry := ws.NewRegistry()
	typing := ws.NewTyping(registry, cfg.TypingStaleAfter)
	hub := ws.NewHub(registry, typing, limiter, users, ws.HubConfig{
		MaxConns:     cfg.MaxWSConnections,
		TypingPerMin: cfg.TypingRatePerMin,
		ClientOptions: ws.ClientOptions{
			SendBufferSize: cfg.WSSendBufferSize,
			PongWait:       cfg.WSPongTimeout,
			MaxMessageSize: cfg.WSMaxMessageSize,
		},
	})
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	ledger := service.NewLedger(messages, registry)
	pipeline := service.NewPipeline(messages, users, mediaStore, registry, ledger)

	// Inline images arrive base64 encoded, a third larger than the file.
	maxBody := cfg.MaxUploadSize*4/3 + 64<<10

	router := handler.NewRouter(handler.Routes{
		Messages:       handler.NewMessageHandler(users, ledger, pipeline, registry, maxBody),
		Users:          handler.NewUserHandler(users, mediaStore, registry, maxBody),
		Files:          handler.NewFileHandler(files, cfg.Media.ServiceURL),
		Config:         handler.NewConfigHandler(cfg),
		WS:             handler.NewWSHandler(hub, verifier, cfg.AllowedOrigins()),
		Verifier:       verifier,
		Limiter:        limiter,
		SendPerMin:     cfg.SendRatePerMin,
		AllowedOrigins: cfg.AllowedOrigins(),
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func newVerifier(auth config.AuthConfig) credential.Verifier {
	switch auth.Mode {
	case config.AuthService:
		logger.Infof("auth: validating sessions via %s", auth.ServiceURL)
		return credential.NewServiceVerifier(auth.ServiceURL, nil)
	case config.AuthQuery:
		logger.Warnf("auth: trusting the userId query parameter (development only)")
		return credential.QueryVerifier{}
	default:
		return credential.NewJWTVerifier(auth.JWTSecret, auth.JWTCookie)
	}
}
