package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"grafsys/api"
	"grafsys/board"
	"grafsys/config"
	"grafsys/feed"
	"grafsys/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := log.New()
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	cfg.ApplyLogLevel(logger)
	for _, check := range []func() error{cfg.RequireStorage, cfg.RequireRedis, cfg.Auth.Validate} {
		if err := check(); err != nil {
			logger.Fatal(err)
		}
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	redisOpts, err := config.RedisOptions(cfg.Redis.ConnectionString)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	var auth *api.Auth
	if cfg.Auth.TestMode {
		auth = api.NewTestAuth([]byte(cfg.Auth.TestSecret), cfg.Auth.Audience, cfg.Auth.Issuer())
	} else {
		jwks, err := keyfunc.Get(cfg.Auth.JWKSURL(), keyfunc.Options{})
		if err != nil {
			logger.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.Auth.Audience, cfg.Auth.Issuer(), cfg.Auth.KeyCacheTTL)
	}

	broker := api.NewBroker()
	live := board.NewLive(store, feed.New(rc, cfg.Redis.Channel, logger), board.Options{
		Logger:   logger,
		Notifier: broker,
	}, cfg.API.BootstrapRetry, cfg.API.Resync)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderContentEncoding, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, api.Server{
		Board:     live,
		Store:     store,
		Catalog:   storage.NewCache(store, rc, cfg.Redis.CacheTTL),
		Auth:      auth,
		Deduper:   api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL),
		Broker:    broker,
		Logger:    logger,
		Heartbeat: cfg.API.Heartbeat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return live.Run(gctx)
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.API.ListenAddr).Info("board api listening")
		if err := e.Start(cfg.API.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Fatal(err)
	}
	logger.Info("board api stopped")
}
