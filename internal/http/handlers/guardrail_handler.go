package handlers

import (
	"github.com/OwaisMaq/ppc-pal-sub003/internal/http/dto"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/middleware"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// GuardrailHandler serves /profiles/:profileId/guardrails.
type GuardrailHandler struct {
	guardrailService *services.GuardrailService
	log              *zap.Logger
}

func NewGuardrailHandler(guardrailService *services.GuardrailService, log *zap.Logger) *GuardrailHandler {
	return &GuardrailHandler{guardrailService: guardrailService, log: log}
}

func (h *GuardrailHandler) GetGuardrails(c *fiber.Ctx) error {
	g, err := h.guardrailService.Get(c.Context(), c.Params("profileId"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: g})
}

func (h *GuardrailHandler) UpdateGuardrails(c *fiber.Ctx) error {
	var req dto.UpdateGuardrailsRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	g, err := h.guardrailService.Update(c.Context(), middleware.ActorID(c), c.Params("profileId"), services.GuardrailUpdate{
		AutomationEnabled:    req.AutomationEnabled,
		BidMinMicros:         req.BidMinMicros,
		BidMaxMicros:         req.BidMaxMicros,
		ApprovalThresholdPct: req.ApprovalThresholdPct,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: g})
}

// SetKillSwitch turns all automation for the profile on or off.
func (h *GuardrailHandler) SetKillSwitch(c *fiber.Ctx) error {
	var req dto.KillSwitchRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	profileID := c.Params("profileId")
	if err := h.guardrailService.SetAutomationEnabled(c.Context(), middleware.ActorID(c), profileID, *req.AutomationEnabled); err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"profile_id":         profileID,
		"automation_enabled": *req.AutomationEnabled,
	}})
}

func (h *GuardrailHandler) AddProtected(c *fiber.Ctx) error {
	var req dto.ProtectEntityRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	pe := &models.ProtectedEntity{
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Reason:     req.Reason,
	}
	if err := h.guardrailService.AddProtected(c.Context(), middleware.ActorID(c), c.Params("profileId"), pe); err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: pe})
}

func (h *GuardrailHandler) RemoveProtected(c *fiber.Ctx) error {
	removed, err := h.guardrailService.RemoveProtected(
		c.Context(),
		middleware.ActorID(c),
		c.Params("profileId"),
		models.EntityType(c.Params("entityType")),
		c.Params("entityId"),
	)
	if err != nil {
		return respondError(c, h.log, err)
	}
	if !removed {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "entity is not protected"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.RemovedResponse{Removed: true}})
}
