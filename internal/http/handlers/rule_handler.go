package handlers

import (
	"github.com/OwaisMaq/ppc-pal-sub003/internal/http/dto"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/middleware"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RuleHandler struct {
	ruleService       *services.RuleService
	automationService *services.AutomationService
	log               *zap.Logger
}

func NewRuleHandler(ruleService *services.RuleService, automationService *services.AutomationService, log *zap.Logger) *RuleHandler {
	return &RuleHandler{ruleService: ruleService, automationService: automationService, log: log}
}

func (h *RuleHandler) CreateRule(c *fiber.Ctx) error {
	var req dto.CreateRuleRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	// New rules observe before they act.
	r := &models.AutomationRule{
		ProfileID: req.ProfileID,
		Name:      req.Name,
		RuleType:  req.RuleType,
		Mode:      req.Mode,
		Enabled:   true,
		Params:    req.Params,
		Action:    req.Action,
	}
	if r.Mode == "" {
		r.Mode = models.ModeDryRun
	}
	if req.Enabled != nil {
		r.Enabled = *req.Enabled
	}
	if req.Throttle != nil {
		r.Throttle = *req.Throttle
	}

	if err := h.ruleService.Create(c.Context(), middleware.ActorID(c), r); err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: r})
}

func (h *RuleHandler) ListRules(c *fiber.Ctx) error {
	rules, err := h.ruleService.List(c.Context(), c.Query("profile_id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: rules})
}

func (h *RuleHandler) GetRule(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid rule id")
	}

	r, err := h.ruleService.GetByID(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: r})
}

func (h *RuleHandler) UpdateRule(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid rule id")
	}

	var req dto.UpdateRuleRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	r, err := h.ruleService.Update(c.Context(), middleware.ActorID(c), id, services.RuleUpdate{
		Name:     req.Name,
		Mode:     req.Mode,
		Enabled:  req.Enabled,
		Params:   req.Params,
		Action:   req.Action,
		Throttle: req.Throttle,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: r})
}

// RunRule evaluates the rule immediately, outside the schedule.
func (h *RuleHandler) RunRule(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid rule id")
	}

	res, err := h.automationService.RunRule(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *RuleHandler) InitializeDefaults(c *fiber.Ctx) error {
	var req dto.InitializeDefaultsRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.ruleService.InitializeDefaults(c.Context(), middleware.ActorID(c), req.ProfileID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: created})
}
