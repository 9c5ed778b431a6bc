package http

import (
	"errors"
	"strings"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/config"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/http/dto"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/http/handlers"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/middleware"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/ratelimit"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/rbac"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

type Handlers struct {
	Rules      *handlers.RuleHandler
	Playbooks  *handlers.PlaybookHandler
	Actions    *handlers.ActionHandler
	Worker     *handlers.WorkerHandler
	Alerts     *handlers.AlertHandler
	Guardrails *handlers.GuardrailHandler
	Metrics    *handlers.MetricsHandler
	WS         *handlers.WSHub
}

// ErrorHandler renders errors no handler answered as dto.ErrorResponse.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		reqID, _ := c.Locals(middleware.CtxRequestID).(string)
		if code >= fiber.StatusInternalServerError {
			log.Error("unhandled error", zap.String("request_id", reqID), zap.String("path", c.Path()), zap.Error(err))
			return c.Status(code).JSON(dto.ErrorResponse{Error: "internal error", RequestID: reqID})
		}
		return c.Status(code).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
	}
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	limiter ratelimit.Limiter,
	h Handlers,
) {
	allowOrigins := "*"
	if len(cfg.CORSOrigins) > 0 {
		allowOrigins = strings.Join(cfg.CORSOrigins, ",")
	}

	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	if limiter != nil {
		api.Use(middleware.RateLimitMiddleware(limiter, log))
	}

	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	view := middleware.Require(rbac.PermView)

	// Meta
	metaHandler := handlers.NewMetaHandler()
	protected.Get("/meta/rule-types", view, metaHandler.GetRuleTypes)
	protected.Get("/meta/action-types", view, metaHandler.GetActionTypes)
	protected.Get("/meta/playbook-templates", view, metaHandler.GetPlaybookTemplates)

	// Rules
	manageRules := middleware.Require(rbac.PermManageRules)
	protected.Get("/rules", view, h.Rules.ListRules)
	protected.Post("/rules", manageRules, h.Rules.CreateRule)
	protected.Post("/rules/defaults", manageRules, h.Rules.InitializeDefaults)
	protected.Get("/rules/:id", view, h.Rules.GetRule)
	protected.Patch("/rules/:id", manageRules, h.Rules.UpdateRule)
	protected.Post("/rules/:id/run", middleware.Require(rbac.PermRunAutomation), h.Rules.RunRule)

	// Playbooks
	managePlaybooks := middleware.Require(rbac.PermManagePlaybooks)
	protected.Get("/playbooks", view, h.Playbooks.ListPlaybooks)
	protected.Post("/playbooks", managePlaybooks, h.Playbooks.CreatePlaybook)
	protected.Get("/playbooks/:id", view, h.Playbooks.GetPlaybook)
	protected.Patch("/playbooks/:id", managePlaybooks, h.Playbooks.UpdatePlaybook)
	protected.Post("/playbooks/:id/run", middleware.Require(rbac.PermRunAutomation), h.Playbooks.RunPlaybook)
	protected.Get("/playbooks/:id/runs", view, h.Playbooks.ListRuns)
	protected.Get("/playbook-runs/:runId", view, h.Playbooks.GetRun)

	// Action queue
	decide := middleware.Require(rbac.PermDecideActions)
	protected.Get("/actions", view, h.Actions.ListActions)
	protected.Get("/actions/summary", view, h.Actions.GetSummary)
	protected.Get("/actions/applied", view, h.Actions.GetAppliedActions)
	protected.Post("/actions/test", middleware.Require(rbac.PermRunAutomation), h.Actions.EnqueueTestAction)
	protected.Get("/actions/:id", view, h.Actions.GetAction)
	protected.Post("/actions/:id/approve", decide, h.Actions.ApproveAction)
	protected.Post("/actions/:id/reject", decide, h.Actions.RejectAction)
	protected.Get("/actions/:id/events", view, h.Actions.GetActionEvents)

	// Worker
	if h.Worker != nil {
		protected.Post("/worker/run-once", middleware.Require(rbac.PermRunWorker), h.Worker.RunOnce)
	}

	// Alerts
	protected.Get("/alerts", view, h.Alerts.ListAlerts)
	protected.Get("/alerts/:id", view, h.Alerts.GetAlert)
	protected.Post("/alerts/:id/ack", middleware.Require(rbac.PermAcknowledgeAlert), h.Alerts.AcknowledgeAlert)

	// Guardrails
	manageGuardrails := middleware.Require(rbac.PermManageGuardrails)
	protected.Get("/profiles/:profileId/guardrails", view, h.Guardrails.GetGuardrails)
	protected.Put("/profiles/:profileId/guardrails", manageGuardrails, h.Guardrails.UpdateGuardrails)
	protected.Post("/profiles/:profileId/kill-switch", manageGuardrails, h.Guardrails.SetKillSwitch)
	protected.Post("/profiles/:profileId/protected", manageGuardrails, h.Guardrails.AddProtected)
	protected.Delete("/profiles/:profileId/protected/:entityType/:entityId", manageGuardrails, h.Guardrails.RemoveProtected)

	// Metrics cache
	if h.Metrics != nil {
		protected.Delete("/profiles/:profileId/metrics-cache", middleware.Require(rbac.PermRunAutomation), h.Metrics.InvalidateCache)
	}

	// WebSocket
	if h.WS != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(h.WS.HandleWS))
	}
}
