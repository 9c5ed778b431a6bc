package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/adsapi"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/config"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/db"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/ratelimit"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/worker"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.WorkerConcurrency+4), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	guardrailRepo := repositories.NewGuardrailRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)
	q := queue.New(repositories.NewActionRepo(pool), guardrailRepo, repositories.NewAuditRepo(pool), publisher, cfg.IdempotencyBucket, log)

	// The limiter lives in Redis so every worker process shares one budget.
	limiter := ratelimit.NewRedisLimiter(rdb, "rl:adsapi:", cfg.AdsAPIRateLimitPerSecond, time.Second)
	client := adsapi.NewClient(cfg.AdsAPIBaseURL, cfg.AdsAPIClientID, adsapi.StaticToken(cfg.AdsAPIAccessToken), limiter, cfg.AdsAPITimeout, log)

	w := worker.New(worker.Config{
		ID:            cfg.WorkerID,
		BatchSize:     cfg.WorkerBatchSize,
		Concurrency:   cfg.WorkerConcurrency,
		Lease:         cfg.WorkerClaimLease,
		MaxDeliveries: cfg.WorkerMaxDeliveries,
		Retry: worker.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Jitter:      cfg.RetryJitter,
		},
	}, q, guardrailRepo, client, publisher, log)

	log.Info("action worker started",
		zap.String("worker_id", w.ID()),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down worker")
		cancel()
	}()

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
			log.Error("worker pass failed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
