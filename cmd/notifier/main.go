package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/config"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/db"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/notify"
	"go.uber.org/zap"
)

// Notifier subscribes to automation events and forwards the ones that need
// attention to NOTIFY_WEBHOOK_URL.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.NotifyWebhookURL == "" {
		log.Fatal("NOTIFY_WEBHOOK_URL is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	webhook := notify.NewWebhook(cfg.NotifyWebhookURL, 10*time.Second, time.Minute, log)
	if err := webhook.Forward(ctx, events.NewRedisSubscriber(rdb, log)); err != nil {
		log.Fatal("failed to subscribe to events", zap.Error(err))
	}

	log.Info("notifier started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notifier")
	cancel()
}
