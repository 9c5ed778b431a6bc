package handlers

import (
	"github.com/OwaisMaq/ppc-pal-sub003/internal/engine"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/http/dto"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/playbook"
	"github.com/gofiber/fiber/v2"
)

type MetaHandler struct{}

func NewMetaHandler() *MetaHandler {
	return &MetaHandler{}
}

type MetaRuleType struct {
	ID             models.RuleType     `json:"id"`
	RequiredParams []string            `json:"required_params"`
	ActionTypes    []models.ActionType `json:"action_types"`
}

type MetaPlaybookTemplate struct {
	ID             string            `json:"id"`
	Scope          models.EntityType `json:"scope"`
	LookbackDays   int               `json:"lookback_days"`
	RequiredParams []string          `json:"required_params"`
}

func (h *MetaHandler) GetRuleTypes(c *fiber.Ctx) error {
	out := make([]MetaRuleType, 0, len(models.AllRuleTypes))
	for _, t := range models.AllRuleTypes {
		out = append(out, MetaRuleType{
			ID:             t,
			RequiredParams: engine.RequiredParams(t),
			ActionTypes:    engine.AllowedActions(t),
		})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *MetaHandler) GetActionTypes(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: models.AllActionTypes})
}

func (h *MetaHandler) GetPlaybookTemplates(c *fiber.Ctx) error {
	out := make([]MetaPlaybookTemplate, 0, len(models.AllPlaybookTemplates))
	for _, name := range models.AllPlaybookTemplates {
		t, ok := playbook.Lookup(name)
		if !ok {
			continue
		}
		out = append(out, MetaPlaybookTemplate{
			ID:             name,
			Scope:          t.Scope,
			LookbackDays:   t.LookbackDays,
			RequiredParams: t.Required,
		})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}
