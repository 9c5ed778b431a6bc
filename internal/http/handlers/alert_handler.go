package handlers

import (
	"errors"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/http/dto"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/middleware"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AlertHandler struct {
	alertService *services.AlertService
	log          *zap.Logger
}

func NewAlertHandler(alertService *services.AlertService, log *zap.Logger) *AlertHandler {
	return &AlertHandler{alertService: alertService, log: log}
}

func (h *AlertHandler) ListAlerts(c *fiber.Ctx) error {
	filter := repositories.AlertFilter{
		ProfileID: c.Query("profile_id"),
		Limit:     queryInt(c, "limit", 50),
		Offset:    queryInt(c, "offset", 0),
	}
	if v := c.Query("state"); v != "" {
		filter.State = models.AlertState(v)
	}
	if v := c.Query("severity"); v != "" {
		filter.Severity = models.Severity(v)
	}
	if v := c.Query("rule_id"); v != "" {
		ruleID, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid rule_id")
		}
		filter.RuleID = &ruleID
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return badRequest(c, "since must be RFC3339")
		}
		filter.Since = &since
	}

	alerts, err := h.alertService.List(c.Context(), filter)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: alerts})
}

func (h *AlertHandler) GetAlert(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid alert id")
	}

	a, err := h.alertService.GetByID(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: a})
}

// AcknowledgeAlert is idempotent from the caller's view: acknowledging an
// already acknowledged alert answers 200 with the alert as it is.
func (h *AlertHandler) AcknowledgeAlert(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid alert id")
	}

	a, err := h.alertService.Acknowledge(c.Context(), id, middleware.ActorID(c))
	if errors.Is(err, repositories.ErrAlreadyAcknowledged) && a != nil {
		return c.JSON(dto.SuccessResponse{OK: false, Data: a})
	}
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: a})
}
