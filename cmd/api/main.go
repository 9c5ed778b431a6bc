package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/adsapi"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/config"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/db"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/engine"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	apphttp "github.com/OwaisMaq/ppc-pal-sub003/internal/http"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/http/handlers"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/lock"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/metrics"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/playbook"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/ratelimit"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/services"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/throttle"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/worker"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, 20, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, db.MigrationsFS(cfg.MigrationsDir), log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	actionRepo := repositories.NewActionRepo(pool)
	ruleRepo := repositories.NewRuleRepo(pool)
	alertRepo := repositories.NewAlertRepo(pool)
	guardrailRepo := repositories.NewGuardrailRepo(pool)
	playbookRepo := repositories.NewPlaybookRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	metricsRepo := repositories.NewMetricsRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Automation core
	provider := metrics.NewCachedProvider(metricsRepo, rdb, cfg.MetricsCacheTTL, log)
	q := queue.New(actionRepo, guardrailRepo, auditRepo, publisher, cfg.IdempotencyBucket, log)
	automationService := services.NewAutomationService(services.AutomationDeps{
		Rules:     ruleRepo,
		Alerts:    alertRepo,
		Guards:    guardrailRepo,
		Metrics:   provider,
		Engine:    engine.New(cfg.BidNoOpDeltaMicros),
		Throttle:  throttle.NewController(actionRepo, cfg.BidNoOpDeltaMicros),
		Queue:     q,
		Locker:    lock.NewRedisLocker(rdb),
		Audit:     auditRepo,
		Publisher: publisher,
		LockTTL:   cfg.RuleLockTTL,
	}, log)
	orchestrator := playbook.NewOrchestrator(q, guardrailRepo, provider, playbookRepo, auditRepo, publisher, cfg.BidNoOpDeltaMicros, log)

	// Manual worker pass shares the Ads API limiter with cmd/worker.
	apiLimiter := ratelimit.NewRedisLimiter(rdb, "rl:adsapi:", cfg.AdsAPIRateLimitPerSecond, time.Second)
	adsClient := adsapi.NewClient(cfg.AdsAPIBaseURL, cfg.AdsAPIClientID, adsapi.StaticToken(cfg.AdsAPIAccessToken), apiLimiter, cfg.AdsAPITimeout, log)
	manualWorker := worker.New(worker.Config{
		ID:            cfg.WorkerID + "-api",
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
	}, q, guardrailRepo, adsClient, publisher, log)

	// Services
	ruleService := services.NewRuleService(ruleRepo, auditRepo, log)
	playbookService := services.NewPlaybookService(playbookRepo, orchestrator, auditRepo, log)
	actionService := services.NewActionService(q, actionRepo, auditRepo, log).WithApprovalGate(automationService)
	alertService := services.NewAlertService(alertRepo, auditRepo, log)
	guardrailService := services.NewGuardrailService(guardrailRepo, auditRepo, publisher, log)

	// Handlers
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to events", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: apphttp.ErrorHandler(log),
	})

	apiLimit := ratelimit.NewRedisLimiter(rdb, "rl:http:", cfg.APIRateLimitPerMinute, time.Minute)
	apphttp.SetupRouter(app, cfg, log, apiLimit, apphttp.Handlers{
		Rules:      handlers.NewRuleHandler(ruleService, automationService, log),
		Playbooks:  handlers.NewPlaybookHandler(playbookService, log),
		Actions:    handlers.NewActionHandler(actionService, automationService, log),
		Worker:     handlers.NewWorkerHandler(manualWorker, log),
		Alerts:     handlers.NewAlertHandler(alertService, log),
		Guardrails: handlers.NewGuardrailHandler(guardrailService, log),
		Metrics:    handlers.NewMetricsHandler(provider, log),
		WS:         wsHub,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
