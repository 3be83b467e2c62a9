package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"grafsys/config"
	"grafsys/feed"
	"grafsys/storage"
	"grafsys/updater"
)

func main() {
	logger := log.New()
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	cfg.ApplyLogLevel(logger)
	if err := cfg.RequireStorage(); err != nil {
		logger.Fatal(err)
	}
	if err := cfg.RequireRedis(); err != nil {
		logger.Fatal(err)
	}
	logger.Info("order updater starting")

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

	proc := updater.NewProcessor(
		store,
		updater.NewOrderService(store, logger),
		feed.NewPublisher(rc, cfg.Redis.Channel),
		storage.NewCache(store, rc, cfg.Redis.CacheTTL),
		updater.Options{
			Logger:          logger,
			PollInterval:    cfg.Updater.PollInterval,
			MaxDequeueCount: cfg.Updater.MaxDequeueCount,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return proc.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		logger.Fatal(err)
	}
	logger.Info("order updater stopped")
}
