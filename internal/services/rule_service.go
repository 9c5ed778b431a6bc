package services

import (
	"context"
	"fmt"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/engine"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/services/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type RuleService struct {
	ruleRepo  RuleStore
	auditRepo queue.Auditor
	log       *zap.Logger
}

func NewRuleService(ruleRepo RuleStore, auditRepo queue.Auditor, log *zap.Logger) *RuleService {
	return &RuleService{
		ruleRepo:  ruleRepo,
		auditRepo: auditRepo,
		log:       log,
	}
}

// ValidateRule runs the struct tags and the rule type's own checks.
func ValidateRule(r *models.AutomationRule) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := engine.ValidateRule(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

func (s *RuleService) Create(ctx context.Context, actorID *uuid.UUID, r *models.AutomationRule) error {
	if r.Params == nil {
		r.Params = models.Params{}
	}
	if err := ValidateRule(r); err != nil {
		return err
	}
	if err := s.ruleRepo.Create(ctx, r); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ProfileID:   r.ProfileID,
		ActorUserID: actorID,
		ActorType:   actorType(actorID),
		Action:      "rule_created",
		EntityType:  models.AuditEntityRule,
		EntityID:    &r.ID,
		Meta:        map[string]any{"rule_type": r.RuleType, "mode": r.Mode, "name": r.Name},
	})
	return nil
}

func (s *RuleService) GetByID(ctx context.Context, id uuid.UUID) (*models.AutomationRule, error) {
	return s.ruleRepo.GetByID(ctx, id)
}

func (s *RuleService) List(ctx context.Context, profileID string) ([]models.AutomationRule, error) {
	if profileID == "" {
		return nil, ErrProfileRequired
	}
	return s.ruleRepo.ListByProfile(ctx, profileID)
}

// RuleUpdate is a partial update; nil fields keep their value. Profile and
// rule type never change.
type RuleUpdate struct {
	Name     *string
	Mode     *models.Mode
	Enabled  *bool
	Params   models.Params
	Action   *models.RuleAction
	Throttle *models.Throttle
}

func (s *RuleService) Update(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, u RuleUpdate) (*models.AutomationRule, error) {
	r, err := s.ruleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := map[string]any{"mode": r.Mode, "enabled": r.Enabled}

	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Mode != nil {
		r.Mode = *u.Mode
	}
	if u.Enabled != nil {
		r.Enabled = *u.Enabled
	}
	if u.Params != nil {
		r.Params = u.Params
	}
	if u.Action != nil {
		r.Action = *u.Action
	}
	if u.Throttle != nil {
		r.Throttle = *u.Throttle
	}
	if err := ValidateRule(r); err != nil {
		return nil, err
	}
	if err := s.ruleRepo.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ProfileID:   r.ProfileID,
		ActorUserID: actorID,
		ActorType:   actorType(actorID),
		Action:      "rule_updated",
		EntityType:  models.AuditEntityRule,
		EntityID:    &r.ID,
		Meta:        map[string]any{"before": before, "mode": r.Mode, "enabled": r.Enabled},
	})
	return r, nil
}

func (s *RuleService) SetEnabled(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, enabled bool) (*models.AutomationRule, error) {
	return s.Update(ctx, actorID, id, RuleUpdate{Enabled: &enabled})
}

func (s *RuleService) SetMode(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, mode models.Mode) (*models.AutomationRule, error) {
	return s.Update(ctx, actorID, id, RuleUpdate{Mode: &mode})
}

type defaultRule struct {
	Name     string            `yaml:"name"`
	RuleType models.RuleType   `yaml:"rule_type"`
	Mode     models.Mode       `yaml:"mode"`
	Params   map[string]any    `yaml:"params"`
	Action   defaultRuleAction `yaml:"action"`
	Throttle struct {
		CooldownHours    int `yaml:"cooldown_hours"`
		MaxActionsPerDay int `yaml:"max_actions_per_day"`
	} `yaml:"throttle"`
}

type defaultRuleAction struct {
	Type   models.ActionType `yaml:"type"`
	Params map[string]any    `yaml:"params"`
}

// DefaultRules parses the built-in rule set for a profile.
func DefaultRules(profileID string) ([]models.AutomationRule, error) {
	var doc struct {
		Rules []defaultRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(defaults.Rules, &doc); err != nil {
		return nil, fmt.Errorf("parse default rules: %w", err)
	}

	rules := make([]models.AutomationRule, 0, len(doc.Rules))
	for _, d := range doc.Rules {
		rules = append(rules, models.AutomationRule{
			ProfileID: profileID,
			Name:      d.Name,
			RuleType:  d.RuleType,
			Mode:      d.Mode,
			Enabled:   true,
			Params:    models.Params(d.Params),
			Action:    models.RuleAction{Type: d.Action.Type, Params: models.Params(d.Action.Params)},
			Throttle: models.Throttle{
				CooldownHours:    d.Throttle.CooldownHours,
				MaxActionsPerDay: d.Throttle.MaxActionsPerDay,
			},
		})
	}
	return rules, nil
}

// InitializeDefaults creates the built-in rules a profile does not have yet.
// A rule type the profile already has is left alone, so calling it again
// creates nothing.
func (s *RuleService) InitializeDefaults(ctx context.Context, actorID *uuid.UUID, profileID string) ([]models.AutomationRule, error) {
	if profileID == "" {
		return nil, ErrProfileRequired
	}
	existing, err := s.ruleRepo.ListByProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	have := make(map[models.RuleType]bool, len(existing))
	for _, r := range existing {
		have[r.RuleType] = true
	}

	defs, err := DefaultRules(profileID)
	if err != nil {
		return nil, err
	}

	var created []models.AutomationRule
	for i := range defs {
		r := &defs[i]
		if have[r.RuleType] {
			continue
		}
		if err := s.Create(ctx, actorID, r); err != nil {
			return created, fmt.Errorf("create default %s: %w", r.RuleType, err)
		}
		have[r.RuleType] = true
		created = append(created, *r)
	}

	s.log.Info("default rules initialized",
		zap.String("profile_id", profileID),
		zap.Int("created", len(created)),
	)
	return created, nil
}

func actorType(actorID *uuid.UUID) string {
	if actorID == nil {
		return models.ActorSystem
	}
	return models.ActorUser
}
