package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type GuardrailService struct {
	guardrailRepo GuardrailStore
	auditRepo     queue.Auditor
	publisher     events.Publisher
	log           *zap.Logger
}

func NewGuardrailService(guardrailRepo GuardrailStore, auditRepo queue.Auditor, publisher events.Publisher, log *zap.Logger) *GuardrailService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &GuardrailService{
		guardrailRepo: guardrailRepo,
		auditRepo:     auditRepo,
		publisher:     publisher,
		log:           log,
	}
}

func (s *GuardrailService) Get(ctx context.Context, profileID string) (*models.GuardrailSettings, error) {
	if profileID == "" {
		return nil, ErrProfileRequired
	}
	return s.guardrailRepo.GetGuardrails(ctx, profileID)
}

type GuardrailUpdate struct {
	AutomationEnabled    *bool
	BidMinMicros         *int64
	BidMaxMicros         *int64
	ApprovalThresholdPct *float64
}

func (s *GuardrailService) Update(ctx context.Context, actorID *uuid.UUID, profileID string, u GuardrailUpdate) (*models.GuardrailSettings, error) {
	g, err := s.Get(ctx, profileID)
	if err != nil {
		return nil, err
	}
	before := *g
	if u.AutomationEnabled != nil {
		g.AutomationEnabled = *u.AutomationEnabled
	}
	if u.BidMinMicros != nil {
		g.BidMinMicros = *u.BidMinMicros
	}
	if u.BidMaxMicros != nil {
		g.BidMaxMicros = *u.BidMaxMicros
	}
	if u.ApprovalThresholdPct != nil {
		g.ApprovalThresholdPct = *u.ApprovalThresholdPct
	}
	if err := validateGuardrails(g); err != nil {
		return nil, err
	}
	if err := s.guardrailRepo.UpsertSettings(ctx, g); err != nil {
		return nil, fmt.Errorf("save guardrails: %w", err)
	}

	s.audit(ctx, actorID, profileID, "guardrails_updated", map[string]any{
		"before": map[string]any{
			"automation_enabled":     before.AutomationEnabled,
			"bid_min_micros":         before.BidMinMicros,
			"bid_max_micros":         before.BidMaxMicros,
			"approval_threshold_pct": before.ApprovalThresholdPct,
		},
		"after": map[string]any{
			"automation_enabled":     g.AutomationEnabled,
			"bid_min_micros":         g.BidMinMicros,
			"bid_max_micros":         g.BidMaxMicros,
			"approval_threshold_pct": g.ApprovalThresholdPct,
		},
	})
	return g, nil
}

func validateGuardrails(g *models.GuardrailSettings) error {
	if g.BidMinMicros < 0 || g.BidMaxMicros < 0 {
		return fmt.Errorf("%w: bid bounds must not be negative", ErrInvalidInput)
	}
	if g.BidMinMicros > 0 && g.BidMaxMicros > 0 && g.BidMinMicros > g.BidMaxMicros {
		return fmt.Errorf("%w: bid_min_micros exceeds bid_max_micros", ErrInvalidInput)
	}
	if g.ApprovalThresholdPct < 0 {
		return fmt.Errorf("%w: approval_threshold_pct must not be negative", ErrInvalidInput)
	}
	return nil
}

// SetAutomationEnabled flips the profile's kill switch. Workers stop claiming
// the profile's items on their next pass.
func (s *GuardrailService) SetAutomationEnabled(ctx context.Context, actorID *uuid.UUID, profileID string, enabled bool) error {
	if profileID == "" {
		return ErrProfileRequired
	}
	if err := s.guardrailRepo.SetAutomationEnabled(ctx, profileID, enabled); err != nil {
		return fmt.Errorf("set automation enabled: %w", err)
	}

	action := "automation_disabled"
	if enabled {
		action = "automation_enabled"
	}
	s.audit(ctx, actorID, profileID, action, nil)
	s.log.Info("kill switch changed", zap.String("profile_id", profileID), zap.Bool("automation_enabled", enabled))
	return nil
}

func (s *GuardrailService) AddProtected(ctx context.Context, actorID *uuid.UUID, profileID string, pe *models.ProtectedEntity) error {
	if profileID == "" {
		return ErrProfileRequired
	}
	pe.EntityID = strings.TrimSpace(pe.EntityID)
	if err := validate.Struct(pe); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !models.IsValidEntityType(pe.EntityType) {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, pe.EntityType)
	}
	if err := s.guardrailRepo.AddProtected(ctx, profileID, pe); err != nil {
		return fmt.Errorf("add protected entity: %w", err)
	}
	s.audit(ctx, actorID, profileID, "entity_protected", map[string]any{
		"entity_type": pe.EntityType,
		"entity_id":   pe.EntityID,
		"reason":      pe.Reason,
	})
	return nil
}

// RemoveProtected reports whether the entity was protected.
func (s *GuardrailService) RemoveProtected(ctx context.Context, actorID *uuid.UUID, profileID string, t models.EntityType, entityID string) (bool, error) {
	if profileID == "" {
		return false, ErrProfileRequired
	}
	removed, err := s.guardrailRepo.RemoveProtected(ctx, profileID, t, entityID)
	if err != nil {
		return false, fmt.Errorf("remove protected entity: %w", err)
	}
	if removed {
		s.audit(ctx, actorID, profileID, "entity_unprotected", map[string]any{
			"entity_type": t,
			"entity_id":   entityID,
		})
	}
	return removed, nil
}

func (s *GuardrailService) audit(ctx context.Context, actorID *uuid.UUID, profileID, action string, meta map[string]any) {
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ProfileID:   profileID,
		ActorUserID: actorID,
		ActorType:   actorType(actorID),
		Action:      action,
		EntityType:  models.AuditEntityGuardrail,
		Meta:        meta,
	})
	_ = s.publisher.Publish(ctx, events.StreamAutomation, events.Event{
		Type:    events.EventGuardrailsChanged,
		Payload: map[string]any{"profile_id": profileID, "change": action},
	})
}
