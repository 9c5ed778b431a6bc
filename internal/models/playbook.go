package models

import (
	"time"

	"github.com/google/uuid"
)

// Playbook templates
const (
	PlaybookHarvestThenNegate  = "harvest_then_negate"
	PlaybookBidDownHighACOS    = "bid_down_high_acos"
	PlaybookPlacementOptimizer = "placement_optimizer"
)

var AllPlaybookTemplates = []string{PlaybookHarvestThenNegate, PlaybookBidDownHighACOS, PlaybookPlacementOptimizer}

type PlaybookDefinition struct {
	ID        uuid.UUID `json:"id"`
	ProfileID string    `json:"profile_id" validate:"required"`
	Name      string    `json:"name" validate:"required,max=200"`
	Template  string    `json:"template" validate:"required"`
	Params    Params    `json:"params"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Playbook run statuses
const (
	PlaybookRunRunning = "running"
	PlaybookRunSuccess = "success"
	PlaybookRunFailed  = "failed"
)

// Step outcomes
const (
	StepSimulated  = "simulated"
	StepEnqueued   = "enqueued"
	StepDuplicate  = "duplicate_ignored"
	StepDropped    = "dropped"
	StepInsertFail = "insert_failed"
)

type PlaybookStep struct {
	ActionType ActionType    `json:"action_type"`
	Payload    ActionPayload `json:"payload"`
	Reason     string        `json:"reason,omitempty"`
	Outcome    string        `json:"outcome"`
	ActionID   *uuid.UUID    `json:"action_id,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type PlaybookRun struct {
	ID                uuid.UUID      `json:"id"`
	PlaybookID        uuid.UUID      `json:"playbook_id"`
	ProfileID         string         `json:"profile_id"`
	Mode              Mode           `json:"mode"`
	Status            string         `json:"status"`
	ActionsProposed   int            `json:"actions_proposed"`
	ActionsEnqueued   int            `json:"actions_enqueued"`
	DuplicatesIgnored int            `json:"duplicates_ignored"`
	AlertsCreated     int            `json:"alerts_created"`
	Steps             []PlaybookStep `json:"steps"`
	Error             *string        `json:"error,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	FinishedAt        *time.Time     `json:"finished_at,omitempty"`
}
