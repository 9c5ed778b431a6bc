package services

import (
	"context"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ActionReporter answers read-only questions about a profile's queue.
type ActionReporter interface {
	ListAppliedSince(ctx context.Context, profileID string, since time.Time) ([]models.ActionQueueItem, error)
	CountByStatus(ctx context.Context, profileID string) (map[models.ActionStatus]int, error)
}

// ApprovalGate decides, under the proposing rule's lock, whether a pending
// item may be queued. approve receives a non-empty reason when it may not.
type ApprovalGate interface {
	GateApproval(ctx context.Context, item *models.ActionQueueItem, approve func(deferReason string) error) error
}

type passThrough struct{}

func (passThrough) GateApproval(_ context.Context, _ *models.ActionQueueItem, approve func(string) error) error {
	return approve("")
}

// ActionService is the operator view of the action queue.
type ActionService struct {
	queue     *queue.Queue
	reporter  ActionReporter
	auditRepo AuditReader
	gate      ApprovalGate
	log       *zap.Logger
}

func NewActionService(q *queue.Queue, reporter ActionReporter, auditRepo AuditReader, log *zap.Logger) *ActionService {
	return &ActionService{queue: q, reporter: reporter, auditRepo: auditRepo, gate: passThrough{}, log: log}
}

// WithApprovalGate re-applies rule throttling when suggestions are approved.
func (s *ActionService) WithApprovalGate(g ApprovalGate) *ActionService {
	s.gate = g
	return s
}

func (s *ActionService) List(ctx context.Context, f queue.Filter) ([]models.ActionQueueItem, error) {
	if f.ProfileID == "" {
		return nil, ErrProfileRequired
	}
	return s.queue.List(ctx, f)
}

func (s *ActionService) GetByID(ctx context.Context, id uuid.UUID) (*models.ActionQueueItem, error) {
	return s.queue.Get(ctx, id)
}

// Approve queues a pending item, or marks it prevented when guardrails or the
// proposing rule's cooldown and daily cap now forbid it. The returned item
// carries the resulting status.
func (s *ActionService) Approve(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (*models.ActionQueueItem, error) {
	item, err := s.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ActionStatusPendingApproval {
		return s.queue.Approve(ctx, id, actorID)
	}
	err = s.gate.GateApproval(ctx, item, func(deferReason string) error {
		var err error
		if deferReason != "" {
			item, err = s.queue.Prevent(ctx, id, actorID, deferReason)
		} else {
			item, err = s.queue.Approve(ctx, id, actorID)
		}
		return err
	})
	if err != nil {
		return item, err
	}
	s.log.Info("action approved",
		zap.String("action_id", id.String()),
		zap.String("status", string(item.Status)),
	)
	return item, nil
}

func (s *ActionService) Reject(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, reason string) (*models.ActionQueueItem, error) {
	item, err := s.queue.Reject(ctx, id, actorID, reason)
	if err != nil {
		return item, err
	}
	s.log.Info("action rejected", zap.String("action_id", id.String()))
	return item, nil
}

// History returns the audit trail of one action, newest first.
func (s *ActionService) History(ctx context.Context, id uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.queue.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.auditRepo.GetByEntity(ctx, models.AuditEntityAction, id, limit, offset)
}

// AppliedSince lists actions applied at or after since, oldest first, for
// outcome attribution.
func (s *ActionService) AppliedSince(ctx context.Context, profileID string, since time.Time) ([]models.ActionQueueItem, error) {
	if profileID == "" {
		return nil, ErrProfileRequired
	}
	return s.reporter.ListAppliedSince(ctx, profileID, since)
}

func (s *ActionService) Summary(ctx context.Context, profileID string) (map[models.ActionStatus]int, error) {
	if profileID == "" {
		return nil, ErrProfileRequired
	}
	return s.reporter.CountByStatus(ctx, profileID)
}
