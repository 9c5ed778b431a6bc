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

type PlaybookHandler struct {
	playbookService *services.PlaybookService
	log             *zap.Logger
}

func NewPlaybookHandler(playbookService *services.PlaybookService, log *zap.Logger) *PlaybookHandler {
	return &PlaybookHandler{playbookService: playbookService, log: log}
}

func (h *PlaybookHandler) CreatePlaybook(c *fiber.Ctx) error {
	var req dto.CreatePlaybookRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	def := &models.PlaybookDefinition{
		ProfileID: req.ProfileID,
		Name:      req.Name,
		Template:  req.Template,
		Params:    req.Params,
		Enabled:   true,
	}
	if req.Enabled != nil {
		def.Enabled = *req.Enabled
	}

	if err := h.playbookService.Create(c.Context(), middleware.ActorID(c), def); err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: def})
}

func (h *PlaybookHandler) ListPlaybooks(c *fiber.Ctx) error {
	list, err := h.playbookService.List(c.Context(), c.Query("profile_id"))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: list})
}

func (h *PlaybookHandler) GetPlaybook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid playbook id")
	}

	def, err := h.playbookService.GetByID(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: def})
}

func (h *PlaybookHandler) UpdatePlaybook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid playbook id")
	}

	var req dto.UpdatePlaybookRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	def, err := h.playbookService.Update(c.Context(), middleware.ActorID(c), id, services.PlaybookUpdate{
		Name:    req.Name,
		Params:  req.Params,
		Enabled: req.Enabled,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: def})
}

// RunPlaybook runs the playbook against the profile in the body. A run that
// started but failed is returned with ok=false.
func (h *PlaybookHandler) RunPlaybook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid playbook id")
	}

	var req dto.RunPlaybookRequest
	if err := parseBody(c, &req); err != nil {
		return badRequest(c, err.Error())
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeDryRun
	}

	run, err := h.playbookService.Run(c.Context(), id, req.ProfileID, mode)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: run.Status == models.PlaybookRunSuccess, Data: run})
}

func (h *PlaybookHandler) ListRuns(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid playbook id")
	}

	runs, err := h.playbookService.ListRuns(c.Context(), id, queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: runs})
}

func (h *PlaybookHandler) GetRun(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("runId"))
	if err != nil {
		return badRequest(c, "invalid run id")
	}

	run, err := h.playbookService.GetRun(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: run})
}
