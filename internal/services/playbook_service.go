package services

import (
	"context"
	"fmt"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/playbook"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PlaybookService struct {
	playbookRepo PlaybookStore
	orchestrator *playbook.Orchestrator
	auditRepo    queue.Auditor
	log          *zap.Logger
}

func NewPlaybookService(playbookRepo PlaybookStore, orchestrator *playbook.Orchestrator, auditRepo queue.Auditor, log *zap.Logger) *PlaybookService {
	return &PlaybookService{
		playbookRepo: playbookRepo,
		orchestrator: orchestrator,
		auditRepo:    auditRepo,
		log:          log,
	}
}

func validatePlaybook(def *models.PlaybookDefinition) error {
	if err := validate.Struct(def); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := playbook.ValidateDefinition(def); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

func (s *PlaybookService) Create(ctx context.Context, actorID *uuid.UUID, def *models.PlaybookDefinition) error {
	if def.Params == nil {
		def.Params = models.Params{}
	}
	if err := validatePlaybook(def); err != nil {
		return err
	}
	if err := s.playbookRepo.Create(ctx, def); err != nil {
		return fmt.Errorf("create playbook: %w", err)
	}
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ProfileID:   def.ProfileID,
		ActorUserID: actorID,
		ActorType:   actorType(actorID),
		Action:      "playbook_created",
		EntityType:  "playbook",
		EntityID:    &def.ID,
		Meta:        map[string]any{"template": def.Template, "name": def.Name},
	})
	return nil
}

func (s *PlaybookService) GetByID(ctx context.Context, id uuid.UUID) (*models.PlaybookDefinition, error) {
	return s.playbookRepo.GetByID(ctx, id)
}

func (s *PlaybookService) List(ctx context.Context, profileID string) ([]models.PlaybookDefinition, error) {
	if profileID == "" {
		return nil, ErrProfileRequired
	}
	return s.playbookRepo.ListByProfile(ctx, profileID)
}

type PlaybookUpdate struct {
	Name    *string
	Params  models.Params
	Enabled *bool
}

func (s *PlaybookService) Update(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, u PlaybookUpdate) (*models.PlaybookDefinition, error) {
	def, err := s.playbookRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		def.Name = *u.Name
	}
	if u.Params != nil {
		def.Params = u.Params
	}
	if u.Enabled != nil {
		def.Enabled = *u.Enabled
	}
	if err := validatePlaybook(def); err != nil {
		return nil, err
	}
	if err := s.playbookRepo.Update(ctx, def); err != nil {
		return nil, fmt.Errorf("update playbook: %w", err)
	}
	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ProfileID:   def.ProfileID,
		ActorUserID: actorID,
		ActorType:   actorType(actorID),
		Action:      "playbook_updated",
		EntityType:  "playbook",
		EntityID:    &def.ID,
		Meta:        map[string]any{"enabled": def.Enabled},
	})
	return def, nil
}

// Run executes a stored playbook. The profile is passed explicitly and must
// match the playbook's own.
func (s *PlaybookService) Run(ctx context.Context, id uuid.UUID, profileID string, mode models.Mode) (*models.PlaybookRun, error) {
	if profileID == "" {
		return nil, ErrProfileRequired
	}
	def, err := s.playbookRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	run, err := s.orchestrator.Run(ctx, def, profileID, mode)
	if err != nil {
		return run, err
	}
	s.log.Info("playbook run finished",
		zap.String("playbook_id", id.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("status", run.Status),
		zap.Int("enqueued", run.ActionsEnqueued),
	)
	return run, nil
}

func (s *PlaybookService) GetRun(ctx context.Context, id uuid.UUID) (*models.PlaybookRun, error) {
	return s.playbookRepo.GetRun(ctx, id)
}

func (s *PlaybookService) ListRuns(ctx context.Context, playbookID uuid.UUID, limit, offset int) ([]models.PlaybookRun, error) {
	return s.playbookRepo.ListRuns(ctx, playbookID, limit, offset)
}
