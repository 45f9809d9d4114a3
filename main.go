package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"todo-api/api"
	"todo-api/domain"
	"todo-api/storage"
)

func main() {
	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.Redis.ConnectionString != "" {
		redisOpts, err := redisOptions(cfg.Redis.ConnectionString)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
	}

	store, closeStore, err := storage.Open(ctx, storage.Config{
		Backend:          cfg.Store.Backend,
		ConnectionString: cfg.Store.ConnectionString,
		TasksTable:       cfg.Store.TasksTable,
		CounterTable:     cfg.Store.CounterTable,
		DSN:              cfg.Store.DSN,
		Redis:            rc,
	})
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("close store")
		}
	}()

	opts := []domain.Option{domain.WithLogger(logger)}
	var dispatcher *api.EventDispatcher
	if cfg.Events.Queue != "" {
		queue, err := storage.NewEventQueue(cfg.Store.ConnectionString, cfg.Events.Queue)
		if err != nil {
			logger.Fatalf("events queue: %v", err)
		}
		dispatcher = api.NewEventDispatcher(queue, api.DispatcherConfig{
			Workers:        cfg.Events.Workers,
			Buffer:         cfg.Events.Buffer,
			PublishTimeout: cfg.Events.Timeout.Duration,
			HandoffTimeout: cfg.Events.HandoffTimeout.Duration,
		}, logger)
		opts = append(opts, domain.WithNotifier(dispatcher))
	}

	todos, err := domain.NewDirectory(ctx, store, opts...)
	if err != nil {
		logger.Fatalf("load todos: %v", err)
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.Redis.DedupeTTL.Duration)
	}

	auth, err := newAuthenticator(cfg.Auth)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, todos, auth, deduper, logger)
	if cfg.Pprof {
		pprof.Register(e)
	}

	go func() {
		logger.Infof("todo api listening on %s (store: %s)", cfg.ListenAddr, cfg.Store.Backend)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	if dispatcher != nil {
		dispatcher.Close()
	}
}

func newLogger(cfg config) *log.Logger {
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}

// newAuthenticator returns nil when authentication is disabled.
func newAuthenticator(cfg authConfig) (api.Authenticator, error) {
	switch cfg.Mode {
	case authHS256:
		return api.NewSharedSecretAuth([]byte(cfg.SharedSecret), cfg.Audience, cfg.Issuer), nil
	case authJWKS:
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		issuer := cfg.Issuer
		if issuer == "" {
			issuer = "https://" + cfg.Domain + "/"
		}
		return api.NewJWKSAuth(jwks, cfg.Audience, issuer, 0), nil
	default:
		return nil, nil
	}
}
