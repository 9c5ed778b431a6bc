package models

import (
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

type AlertState string

const (
	AlertStateNew          AlertState = "new"
	AlertStateAcknowledged AlertState = "acknowledged"
)

type Alert struct {
	ID             uuid.UUID      `json:"id"`
	ProfileID      string         `json:"profile_id"`
	RuleID         *uuid.UUID     `json:"rule_id,omitempty"`
	EntityType     EntityType     `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Severity       Severity       `json:"severity"`
	State          AlertState     `json:"state"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *uuid.UUID     `json:"acknowledged_by,omitempty"`
}
