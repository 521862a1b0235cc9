package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"admin-approvals/api"
	"admin-approvals/config"
	"admin-approvals/domain"
	"admin-approvals/storage"
	"admin-approvals/telemetry"
)

func main() {
	var cfg serviceConfig
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var traceOut io.Writer
	if cfg.OtelStdout {
		traceOut = os.Stdout
	}
	shutdownTracing, err := telemetry.Setup(ctx, "approvals-api", traceOut)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	store, err := storage.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisOpts, err := config.RedisOptions(cfg.RedisConn)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	cached := storage.NewCache(store, rc, cfg.AdminCache)

	var sink api.Sink = api.LogSink{Logger: logger}
	if cfg.NotificationQueue != "" {
		queue, err := storage.NewNotificationQueue(cfg.StorageConn, cfg.NotificationQueue)
		if err != nil {
			log.Fatalf("notification queue: %v", err)
		}
		sink = queue
	} else {
		logger.Warn("NOTIFICATION_QUEUE not set; request notifications are only logged")
	}
	outbox := api.NewOutbox(sink, cfg.outbox(), logger)
	engine := domain.NewEngine(cached, outbox, logger)

	authCfg := api.AuthConfig{
		Secret:   cfg.TokenSecret,
		Issuer:   cfg.TokenIssuer,
		TTL:      cfg.TokenTTL,
		Audience: cfg.JWTAudience,
	}
	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		authCfg.JWKS = jwks
	}
	auth, err := api.NewAuth(authCfg, storage.NewTokenRevocations(rc))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(api.RequestMetrics(logger))
	if cfg.PprofEnabled {
		pprof.Register(e)
	}

	api.Register(e, api.Deps{
		Approvals: engine,
		Accounts:  cached,
		Auth:      auth,
		Deduper:   api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Redis:     rc,
		Health: map[string]api.Pinger{
			"sqlite": store,
			"redis":  api.PingFunc(func(ctx context.Context) error { return rc.Ping(ctx).Err() }),
		},
	}, logger)

	go func() {
		if err := e.Start(cfg.listenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()
	logger.WithField("addr", cfg.listenAddr()).Info("approvals api started")

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	outbox.Close()
	stats := outbox.Stats()
	logger.WithFields(log.Fields{
		"delivered": stats.Delivered,
		"dropped":   stats.Dropped,
	}).Info("notification outbox drained")
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("telemetry shutdown")
	}
	_ = rc.Close()
	if err := store.Close(); err != nil {
		logger.WithError(err).Error("close storage")
	}
}
