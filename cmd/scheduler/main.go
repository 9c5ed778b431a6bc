package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/config"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/db"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/engine"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/lock"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/metrics"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/services"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/throttle"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, 8, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	actionRepo := repositories.NewActionRepo(pool)
	guardrailRepo := repositories.NewGuardrailRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)

	automationService := services.NewAutomationService(services.AutomationDeps{
		Rules:     repositories.NewRuleRepo(pool),
		Alerts:    repositories.NewAlertRepo(pool),
		Guards:    guardrailRepo,
		Metrics:   metrics.NewCachedProvider(repositories.NewMetricsRepo(pool), rdb, cfg.MetricsCacheTTL, log),
		Engine:    engine.New(cfg.BidNoOpDeltaMicros),
		Throttle:  throttle.NewController(actionRepo, cfg.BidNoOpDeltaMicros),
		Queue:     queue.New(actionRepo, guardrailRepo, auditRepo, publisher, cfg.IdempotencyBucket, log),
		Locker:    lock.NewRedisLocker(rdb),
		Audit:     auditRepo,
		Publisher: publisher,
		LockTTL:   cfg.RuleLockTTL,
	}, log)

	clog := cronLogger{s: log.Sugar()}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	_, err = c.AddFunc(cfg.RuleEvalCron, func() {
		res, err := automationService.RunEnabledRules(ctx)
		if err != nil {
			log.Error("rule evaluation pass failed", zap.Error(err))
			return
		}
		log.Info("rule evaluation pass finished",
			zap.Int("rules", res.Rules),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed),
		)
	})
	if err != nil {
		log.Fatal("invalid RULE_EVAL_CRON", zap.String("spec", cfg.RuleEvalCron), zap.Error(err))
	}

	c.Start()
	log.Info("rule scheduler started", zap.String("schedule", cfg.RuleEvalCron))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down rule scheduler")
	cancel()
	<-c.Stop().Done()
}
