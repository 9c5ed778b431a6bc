package dto

import (
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the struct tags of a decoded request body.
func Validate(req any) error {
	return validate.Struct(req)
}

// Rules

type CreateRuleRequest struct {
	ProfileID string            `json:"profile_id" validate:"required"`
	Name      string            `json:"name" validate:"required,max=200"`
	RuleType  models.RuleType   `json:"rule_type" validate:"required"`
	Mode      models.Mode       `json:"mode" validate:"omitempty,oneof=dry_run suggestion auto"`
	Enabled   *bool             `json:"enabled,omitempty"`
	Params    models.Params     `json:"params"`
	Action    models.RuleAction `json:"action"`
	Throttle  *models.Throttle  `json:"throttle,omitempty"`
}

type UpdateRuleRequest struct {
	Name     *string            `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Mode     *models.Mode       `json:"mode,omitempty" validate:"omitempty,oneof=dry_run suggestion auto"`
	Enabled  *bool              `json:"enabled,omitempty"`
	Params   models.Params      `json:"params,omitempty"`
	Action   *models.RuleAction `json:"action,omitempty"`
	Throttle *models.Throttle   `json:"throttle,omitempty"`
}

type InitializeDefaultsRequest struct {
	ProfileID string `json:"profile_id" validate:"required"`
}

// Playbooks

type CreatePlaybookRequest struct {
	ProfileID string        `json:"profile_id" validate:"required"`
	Name      string        `json:"name" validate:"required,max=200"`
	Template  string        `json:"template" validate:"required"`
	Params    models.Params `json:"params"`
	Enabled   *bool         `json:"enabled,omitempty"`
}

type UpdatePlaybookRequest struct {
	Name    *string       `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Params  models.Params `json:"params,omitempty"`
	Enabled *bool         `json:"enabled,omitempty"`
}

type RunPlaybookRequest struct {
	ProfileID string      `json:"profile_id" validate:"required"`
	Mode      models.Mode `json:"mode" validate:"omitempty,oneof=dry_run suggestion auto"`
}

// Actions

type TestActionRequest struct {
	ProfileID       string               `json:"profile_id" validate:"required"`
	ActionType      models.ActionType    `json:"action_type" validate:"required"`
	Payload         models.ActionPayload `json:"payload"`
	Reason          string               `json:"reason,omitempty" validate:"max=500"`
	RequireApproval bool                 `json:"require_approval,omitempty"`
}

type RejectActionRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// Guardrails

type UpdateGuardrailsRequest struct {
	AutomationEnabled    *bool    `json:"automation_enabled,omitempty"`
	BidMinMicros         *int64   `json:"bid_min_micros,omitempty" validate:"omitempty,gte=0"`
	BidMaxMicros         *int64   `json:"bid_max_micros,omitempty" validate:"omitempty,gte=0"`
	ApprovalThresholdPct *float64 `json:"approval_threshold_pct,omitempty" validate:"omitempty,gte=0"`
}

type KillSwitchRequest struct {
	AutomationEnabled *bool `json:"automation_enabled" validate:"required"`
}

type ProtectEntityRequest struct {
	EntityType models.EntityType `json:"entity_type" validate:"required"`
	EntityID   string            `json:"entity_id" validate:"required,max=100"`
	Reason     string            `json:"reason,omitempty" validate:"max=500"`
}
