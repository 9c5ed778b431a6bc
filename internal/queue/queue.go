package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/events"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/guardrail"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Outcome string

const (
	Inserted         Outcome = "inserted"
	DuplicateIgnored Outcome = "duplicate_ignored"
)

type EnqueueRequest struct {
	ProfileID       string
	ActionType      models.ActionType
	Payload         models.ActionPayload
	Source          string
	RuleID          *uuid.UUID
	PlaybookRunID   *uuid.UUID
	Reason          string
	RequireApproval bool
}

type EnqueueResult struct {
	Outcome Outcome
	// Item is the inserted item, or the item already holding the key.
	Item *models.ActionQueueItem
}

type Queue struct {
	store     Store
	guards    guardrail.Reader
	audit     Auditor
	publisher events.Publisher
	bucket    time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func New(store Store, guards guardrail.Reader, audit Auditor, publisher events.Publisher, bucket time.Duration, log *zap.Logger) *Queue {
	if bucket <= 0 {
		bucket = 24 * time.Hour
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Queue{
		store:     store,
		guards:    guards,
		audit:     audit,
		publisher: publisher,
		bucket:    bucket,
		now:       time.Now,
		log:       log,
	}
}

// WithClock replaces the queue's clock. The clock only picks the idempotency bucket.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

func (q *Queue) Store() Store { return q.store }

// Enqueue inserts an action unless an item with the same idempotency key already
// holds it. A duplicate is a normal outcome, not an error.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	if req.ProfileID == "" {
		return EnqueueResult{}, errors.New("profile_id is required")
	}
	if err := req.Payload.Validate(req.ActionType); err != nil {
		return EnqueueResult{}, fmt.Errorf("invalid payload: %w", err)
	}
	if req.Source == "" {
		req.Source = models.SourceManual
	}

	status := models.ActionStatusQueued
	if req.RequireApproval {
		status = models.ActionStatusPendingApproval
	}

	item := &models.ActionQueueItem{
		ProfileID:      req.ProfileID,
		ActionType:     req.ActionType,
		Payload:        req.Payload,
		EntityKey:      req.Payload.EntityKey(),
		IdempotencyKey: models.IdempotencyKey(req.ProfileID, req.ActionType, req.Payload, models.BucketStart(q.now(), q.bucket)),
		Status:         status,
		Source:         req.Source,
		RuleID:         req.RuleID,
		PlaybookRunID:  req.PlaybookRunID,
		Reason:         req.Reason,
	}

	inserted, err := q.store.Insert(ctx, item)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("insert action: %w", err)
	}
	if !inserted {
		existing, err := q.store.GetByIdempotencyKey(ctx, item.IdempotencyKey)
		if err != nil && !errors.Is(err, ErrNotFound) {
			q.log.Warn("failed to load duplicate action", zap.String("idempotency_key", item.IdempotencyKey), zap.Error(err))
		}
		q.log.Debug("duplicate action ignored",
			zap.String("profile_id", req.ProfileID),
			zap.String("action_type", string(req.ActionType)),
			zap.String("entity_key", item.EntityKey),
		)
		return EnqueueResult{Outcome: DuplicateIgnored, Item: existing}, nil
	}

	_ = q.audit.Log(ctx, models.AuditLog{
		ProfileID:  item.ProfileID,
		ActorType:  actorForSource(item.Source),
		ActorRef:   sourceRef(item),
		Action:     "action_enqueued",
		EntityType: models.AuditEntityAction,
		EntityID:   &item.ID,
		Meta: map[string]any{
			"action_type": item.ActionType,
			"status":      item.Status,
			"source":      item.Source,
			"reason":      item.Reason,
		},
	})
	q.publish(ctx, item, "", item.Status, req.Reason)

	return EnqueueResult{Outcome: Inserted, Item: item}, nil
}

func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*models.ActionQueueItem, error) {
	return q.store.GetByID(ctx, id)
}

func (q *Queue) List(ctx context.Context, f Filter) ([]models.ActionQueueItem, error) {
	return q.store.List(ctx, f)
}

// Approve moves a pending item to queued. If guardrails forbid the action now,
// the item becomes prevented instead and the returned item says why.
func (q *Queue) Approve(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (*models.ActionQueueItem, error) {
	item, err := q.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ActionStatusPendingApproval {
		return item, fmt.Errorf("%w: cannot approve %s item", ErrInvalidTransition, item.Status)
	}

	g, err := q.guards.GetGuardrails(ctx, item.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load guardrails: %w", err)
	}
	if v := guardrail.CheckAutomation(g, item.ActionType, item.Payload); v != nil {
		return item, q.transition(ctx, item, models.ActionStatusPrevented, StatusUpdate{Reason: v.Reason, ActorID: actorID})
	}
	return item, q.transition(ctx, item, models.ActionStatusQueued, StatusUpdate{Reason: "approved", ActorID: actorID})
}

// Prevent closes a pending item without queueing it, recording why.
func (q *Queue) Prevent(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, reason string) (*models.ActionQueueItem, error) {
	item, err := q.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.ActionStatusPendingApproval {
		return item, fmt.Errorf("%w: cannot approve %s item", ErrInvalidTransition, item.Status)
	}
	return item, q.transition(ctx, item, models.ActionStatusPrevented, StatusUpdate{Reason: reason, ActorID: actorID})
}

// Reject cancels a pending item, or a queued item no worker currently holds.
func (q *Queue) Reject(ctx context.Context, id uuid.UUID, actorID *uuid.UUID, reason string) (*models.ActionQueueItem, error) {
	item, err := q.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.IsValidActionTransition(item.Status, models.ActionStatusRejected) {
		return item, fmt.Errorf("%w: cannot reject %s item", ErrInvalidTransition, item.Status)
	}
	if reason == "" {
		reason = "rejected by operator"
	}
	return item, q.transition(ctx, item, models.ActionStatusRejected, StatusUpdate{Reason: reason, ActorID: actorID})
}

func (q *Queue) transition(ctx context.Context, item *models.ActionQueueItem, to models.ActionStatus, u StatusUpdate) error {
	from := item.Status
	if !models.IsValidActionTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := q.store.Transition(ctx, item.ID, from, to, u); err != nil {
		return err
	}
	item.Status = to
	if u.Reason != "" {
		reason := u.Reason
		item.StatusReason = &reason
	}
	item.DecidedBy = u.ActorID

	actorType := models.ActorUser
	if u.ActorID == nil {
		actorType = models.ActorSystem
	}
	_ = q.audit.Log(ctx, models.AuditLog{
		ProfileID:   item.ProfileID,
		ActorUserID: u.ActorID,
		ActorType:   actorType,
		Action:      fmt.Sprintf("action_status_%s_to_%s", from, to),
		EntityType:  models.AuditEntityAction,
		EntityID:    &item.ID,
		Meta:        map[string]any{"old_status": from, "new_status": to, "reason": u.Reason},
	})
	q.publish(ctx, item, from, to, u.Reason)
	return nil
}

// Claim leases a batch of queued items to a worker.
func (q *Queue) Claim(ctx context.Context, workerID string, lease time.Duration, limit int) ([]models.ActionQueueItem, error) {
	return q.store.Claim(ctx, workerID, lease, limit)
}

func (q *Queue) MarkApplied(ctx context.Context, item *models.ActionQueueItem, workerID string, u StatusUpdate) error {
	return q.complete(ctx, item, workerID, models.ActionStatusApplied, u)
}

func (q *Queue) MarkFailed(ctx context.Context, item *models.ActionQueueItem, workerID string, u StatusUpdate) error {
	return q.complete(ctx, item, workerID, models.ActionStatusFailed, u)
}

func (q *Queue) MarkSkipped(ctx context.Context, item *models.ActionQueueItem, workerID string, reason string) error {
	return q.complete(ctx, item, workerID, models.ActionStatusSkipped, StatusUpdate{Reason: reason})
}

// Release gives a claimed item back to the queue. countAttempt is false when the
// worker never got to call the provider, e.g. on shutdown.
func (q *Queue) Release(ctx context.Context, item *models.ActionQueueItem, workerID string, notBefore *time.Time, countAttempt bool, lastErr string) error {
	if err := q.store.Release(ctx, item.ID, workerID, notBefore, countAttempt, lastErr); err != nil {
		return err
	}
	if countAttempt {
		item.Attempts++
	}
	item.ClaimedBy = nil
	item.ClaimExpiresAt = nil
	item.NotBefore = notBefore
	_ = q.audit.Log(ctx, models.AuditLog{
		ProfileID:  item.ProfileID,
		ActorType:  models.ActorWorker,
		ActorRef:   workerID,
		Action:     "action_released",
		EntityType: models.AuditEntityAction,
		EntityID:   &item.ID,
		Meta:       map[string]any{"attempts": item.Attempts, "not_before": notBefore, "error": lastErr},
	})
	return nil
}

func (q *Queue) complete(ctx context.Context, item *models.ActionQueueItem, workerID string, to models.ActionStatus, u StatusUpdate) error {
	from := item.Status
	if !models.IsValidActionTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := q.store.Complete(ctx, item.ID, workerID, to, u); err != nil {
		return err
	}
	item.Status = to
	if u.Reason != "" {
		reason := u.Reason
		item.StatusReason = &reason
	}
	if u.Error != "" {
		e := u.Error
		item.Error = &e
	}
	if u.RequestID != "" {
		rid := u.RequestID
		item.AmazonRequestID = &rid
	}
	item.AmazonAPIResponse = u.Response

	_ = q.audit.Log(ctx, models.AuditLog{
		ProfileID:  item.ProfileID,
		ActorType:  models.ActorWorker,
		ActorRef:   workerID,
		Action:     fmt.Sprintf("action_status_%s_to_%s", from, to),
		EntityType: models.AuditEntityAction,
		EntityID:   &item.ID,
		Meta: map[string]any{
			"old_status": from,
			"new_status": to,
			"reason":     u.Reason,
			"error":      u.Error,
			"request_id": u.RequestID,
		},
	})
	q.publish(ctx, item, from, to, firstNonEmpty(u.Reason, u.Error))
	if to == models.ActionStatusApplied {
		_ = q.publisher.Publish(ctx, events.StreamAutomation, events.Event{
			Type: events.EventActionApplied,
			Payload: map[string]any{
				"action_id":   item.ID.String(),
				"profile_id":  item.ProfileID,
				"action_type": string(item.ActionType),
				"entity_key":  item.EntityKey,
				"request_id":  u.RequestID,
			},
		})
	}
	return nil
}

func (q *Queue) publish(ctx context.Context, item *models.ActionQueueItem, from, to models.ActionStatus, reason string) {
	_ = q.publisher.Publish(ctx, events.StreamAutomation, events.Event{
		Type: events.EventActionStatusChanged,
		Payload: map[string]any{
			"action_id":   item.ID.String(),
			"profile_id":  item.ProfileID,
			"action_type": string(item.ActionType),
			"old_status":  string(from),
			"new_status":  string(to),
			"reason":      reason,
		},
	})
}

func actorForSource(source string) string {
	switch source {
	case models.SourceRule:
		return models.ActorRule
	case models.SourcePlaybook:
		return models.ActorPlaybook
	default:
		return models.ActorUser
	}
}

func sourceRef(item *models.ActionQueueItem) string {
	switch {
	case item.RuleID != nil:
		return item.RuleID.String()
	case item.PlaybookRunID != nil:
		return item.PlaybookRunID.String()
	}
	return ""
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
