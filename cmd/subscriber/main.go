// cmd/subscriber tails execution events published by the bundler
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/aman-zulfiqar/solana-bundler/internal/cache"
	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/aman-zulfiqar/solana-bundler/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	addr := flag.String("redis", "localhost:6379", "redis address")
	strategy := flag.String("strategy", "", "only events of this strategy (safe | mev | stagger | order)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down subscriber")
		cancel()
	}()

	rc, err := cache.NewRedisCache(redis.NewClient(&redis.Options{Addr: *addr}))
	if err != nil {
		logger.WithError(err).Fatal("failed to create redis cache")
	}
	defer rc.Close()
	if err := rc.Ping(ctx); err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}

	channel := ""
	if *strategy != "" {
		channel = cache.StrategyChannel(*strategy)
	}
	events, err := rc.SubscribeExecutions(ctx, channel)
	if err != nil {
		logger.WithError(err).Fatal("subscribe failed")
	}
	logger.WithField("strategy", *strategy).Info("subscriber running, press Ctrl+C to stop")

	var handle storage.ExecutionHandler = func(ev *models.ExecutionEvent) {
		logger.WithFields(logrus.Fields{
			"strategy":  ev.Strategy,
			"stage":     ev.Stage,
			"wallet":    ev.Wallet,
			"side":      ev.Side,
			"amount":    ev.Amount,
			"transport": ev.Transport,
		}).Info(ev.Signature)
	}
	for ev := range events {
		handle(ev)
	}
}
