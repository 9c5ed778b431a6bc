package handlers

import (
	"context"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/http/dto"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/middleware"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/services"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/worker"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ActionHandler struct {
	actionService     *services.ActionService
	automationService *services.AutomationService
	log               *zap.Logger
}

func NewActionHandler(actionService *services.ActionService, automationService *services.AutomationService, log *zap.Logger) *ActionHandler {
	return &ActionHandler{actionService: actionService, automationService: automationService, log: log}
}

func (h *ActionHandler) ListActions(c *fiber.Ctx) error {
	filter := queue.Filter{
		ProfileID: c.Query("profile_id"),
		Source:    c.Query("source"),
		Limit:     queryInt(c, "limit", 50),
		Offset:    queryInt(c, "offset", 0),
	}
	if v := c.Query("status"); v != "" {
		status := models.ActionStatus(v)
		filter.Status = &status
	}
	if v := c.Query("rule_id"); v != "" {
		ruleID, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid rule_id")
		}
		filter.RuleID = &ruleID
	}

	items, err := h.actionService.List(c.Context(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: items})
}

func (h *ActionHandler) GetAction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid action id")
	}

	item, err := h.actionService.GetByID(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: item})
}

// ApproveAction queues a pending action. When guardrails forbid it the
// action ends up prevented and the response carries that status.
func (h *ActionHandler) ApproveAction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid action id")
	}

	item, err := h.actionService.Approve(c.Context(), id, middleware.ActorID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: item.Status == models.ActionStatusQueued, Data: item})
}

func (h *ActionHandler) RejectAction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid action id")
	}

	var req dto.RejectActionRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
	}

	item, err := h.actionService.Reject(c.Context(), id, middleware.ActorID(c), req.Reason)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: item})
}

func (h *ActionHandler) GetActionEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid action id")
	}

	logs, err := h.actionService.History(c.Context(), id, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

// GetAppliedActions lists applied actions since ?since (RFC3339, default 7 days).
func (h *ActionHandler) GetAppliedActions(c *fiber.Ctx) error {
	since := time.Now().Add(-7 * 24 * time.Hour)
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "since must be RFC3339")
		}
		since = t
	}

	items, err := h.actionService.AppliedSince(c.Context(), c.Query("profile_id"), since)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: items})
}

func (h *ActionHandler) GetSummary(c *fiber.Ctx) error {
	counts, err := h.actionService.Summary(c.Context(), c.Query("profile_id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: counts})
}

// EnqueueTestAction queues a hand-written action. A duplicate of an action
// already held in the current window answers 200 with the existing item.
func (h *ActionHandler) EnqueueTestAction(c *fiber.Ctx) error {
	var req dto.TestActionRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	res, err := h.automationService.EnqueueTestAction(c.Context(), middleware.ActorID(c), services.TestActionRequest{
		ProfileID:       req.ProfileID,
		ActionType:      req.ActionType,
		Payload:         req.Payload,
		Reason:          req.Reason,
		RequireApproval: req.RequireApproval,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}

	status := fiber.StatusCreated
	if res.Outcome == queue.DuplicateIgnored {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(dto.SuccessResponse{OK: true, Data: dto.EnqueueResponse{
		Outcome: string(res.Outcome),
		Action:  res.Item,
	}})
}

// Runner is one execution pass over the queue.
type Runner interface {
	RunOnce(ctx context.Context) (worker.Stats, error)
}

type WorkerHandler struct {
	runner Runner
	log    *zap.Logger
}

func NewWorkerHandler(runner Runner, log *zap.Logger) *WorkerHandler {
	return &WorkerHandler{runner: runner, log: log}
}

func (h *WorkerHandler) RunOnce(c *fiber.Ctx) error {
	stats, err := h.runner.RunOnce(c.Context())
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: stats})
}
