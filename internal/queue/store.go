package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("action not found")
	ErrStaleState        = errors.New("action is no longer in the expected state")
	ErrInvalidTransition = errors.New("invalid action status transition")
	ErrClaimLost         = errors.New("action claim lost")
)

// StatusUpdate carries the fields written together with a status change.
type StatusUpdate struct {
	Reason    string
	Error     string
	RequestID string
	Response  json.RawMessage
	ActorID   *uuid.UUID
}

type Filter struct {
	ProfileID string
	Status    *models.ActionStatus
	RuleID    *uuid.UUID
	Source    string
	Limit     int
	Offset    int
}

// Store is the durable action queue. Every mutation is conditional on the
// expected current state so that concurrent writers cannot both succeed.
type Store interface {
	// Insert returns false when another item already holds the idempotency key.
	Insert(ctx context.Context, item *models.ActionQueueItem) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ActionQueueItem, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.ActionQueueItem, error)

	// Transition moves an unclaimed item from one status to another, returning
	// ErrStaleState when the item is not in from or is held by a live claim.
	Transition(ctx context.Context, id uuid.UUID, from, to models.ActionStatus, u StatusUpdate) error

	// Claim leases up to limit queued items to workerID. Items whose profile has
	// automation disabled, whose not_before is in the future, or whose lease is
	// still live are not returned.
	Claim(ctx context.Context, workerID string, lease time.Duration, limit int) ([]models.ActionQueueItem, error)

	// Complete moves a claimed item to a terminal status. ErrClaimLost when the
	// item is no longer queued under workerID's claim.
	Complete(ctx context.Context, id uuid.UUID, workerID string, to models.ActionStatus, u StatusUpdate) error

	// Release drops workerID's claim and leaves the item queued.
	Release(ctx context.Context, id uuid.UUID, workerID string, notBefore *time.Time, countAttempt bool, lastErr string) error

	List(ctx context.Context, f Filter) ([]models.ActionQueueItem, error)
}

type Auditor interface {
	Log(ctx context.Context, entry models.AuditLog) error
}
