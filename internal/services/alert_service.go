package services

import (
	"context"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AlertService struct {
	alertRepo AlertStore
	auditRepo queue.Auditor
	log       *zap.Logger
}

func NewAlertService(alertRepo AlertStore, auditRepo queue.Auditor, log *zap.Logger) *AlertService {
	return &AlertService{alertRepo: alertRepo, auditRepo: auditRepo, log: log}
}

func (s *AlertService) List(ctx context.Context, f repositories.AlertFilter) ([]models.Alert, error) {
	if f.ProfileID == "" {
		return nil, ErrProfileRequired
	}
	return s.alertRepo.List(ctx, f)
}

func (s *AlertService) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	return s.alertRepo.GetByID(ctx, id)
}

// Acknowledge moves a new alert to acknowledged. The second call for the same
// alert returns repositories.ErrAlreadyAcknowledged.
func (s *AlertService) Acknowledge(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (*models.Alert, error) {
	a, err := s.alertRepo.Acknowledge(ctx, id, actorID)
	if err != nil {
		return a, err
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ProfileID:   a.ProfileID,
		ActorUserID: actorID,
		ActorType:   actorType(actorID),
		Action:      "alert_acknowledged",
		EntityType:  models.AuditEntityAlert,
		EntityID:    &a.ID,
	})
	return a, nil
}
