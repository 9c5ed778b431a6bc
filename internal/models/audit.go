package models

import (
	"time"

	"github.com/google/uuid"
)

// Actor types
const (
	ActorUser     = "user"
	ActorSystem   = "system"
	ActorWorker   = "worker"
	ActorRule     = "rule"
	ActorPlaybook = "playbook"
)

// Audited entity types
const (
	AuditEntityAction      = "action"
	AuditEntityRule        = "rule"
	AuditEntityAlert       = "alert"
	AuditEntityGuardrail   = "guardrail"
	AuditEntityPlaybookRun = "playbook_run"
)

type AuditLog struct {
	ID          uuid.UUID  `json:"id"`
	ProfileID   string     `json:"profile_id,omitempty"`
	ActorUserID *uuid.UUID `json:"actor_user_id,omitempty"`
	ActorType   string     `json:"actor_type"`
	ActorRef    string     `json:"actor_ref,omitempty"` // worker id, rule id
	Action      string     `json:"action"`
	EntityType  string     `json:"entity_type"`
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Meta        any        `json:"meta,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
