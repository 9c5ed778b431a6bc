package services

import (
	"context"
	"errors"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/guardrail"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/google/uuid"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrProfileRequired    = errors.New("profile_id is required")
	ErrRuleRunning        = errors.New("rule is already running")
	ErrRuleDisabled       = errors.New("rule is disabled")
	ErrProtectedEntity    = errors.New("entity is protected")
	ErrGuardrailViolation = errors.New("guardrail violation")
	ErrAutomationDisabled = errors.New("automation is disabled for this profile")
)

// The stores below are the slices of the repositories each service uses.

type RuleStore interface {
	Create(ctx context.Context, r *models.AutomationRule) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.AutomationRule, error)
	ListByProfile(ctx context.Context, profileID string) ([]models.AutomationRule, error)
	ListEnabled(ctx context.Context) ([]models.AutomationRule, error)
	Update(ctx context.Context, r *models.AutomationRule) error
	MarkRun(ctx context.Context, id uuid.UUID, at time.Time) error
}

type AlertStore interface {
	Create(ctx context.Context, a *models.Alert) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error)
	List(ctx context.Context, f repositories.AlertFilter) ([]models.Alert, error)
	Acknowledge(ctx context.Context, id uuid.UUID, by *uuid.UUID) (*models.Alert, error)
	LastRuleAlertOnEntity(ctx context.Context, ruleID uuid.UUID, entityType models.EntityType, entityID string) (*time.Time, error)
}

type GuardrailStore interface {
	guardrail.Reader
	UpsertSettings(ctx context.Context, g *models.GuardrailSettings) error
	SetAutomationEnabled(ctx context.Context, profileID string, enabled bool) error
	AddProtected(ctx context.Context, profileID string, pe *models.ProtectedEntity) error
	RemoveProtected(ctx context.Context, profileID string, t models.EntityType, entityID string) (bool, error)
}

type PlaybookStore interface {
	Create(ctx context.Context, p *models.PlaybookDefinition) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PlaybookDefinition, error)
	ListByProfile(ctx context.Context, profileID string) ([]models.PlaybookDefinition, error)
	Update(ctx context.Context, p *models.PlaybookDefinition) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.PlaybookRun, error)
	ListRuns(ctx context.Context, playbookID uuid.UUID, limit, offset int) ([]models.PlaybookRun, error)
}

type AuditReader interface {
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// storeContext detaches bookkeeping writes from a cancelled request.
func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}
