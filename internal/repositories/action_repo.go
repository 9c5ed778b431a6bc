package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/OwaisMaq/ppc-pal-sub003/internal/queue"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActionRepo is the postgres action queue. It implements queue.Store and
// throttle.History.
type ActionRepo struct {
	pool *pgxpool.Pool
}

func NewActionRepo(pool *pgxpool.Pool) *ActionRepo {
	return &ActionRepo{pool: pool}
}

const actionColumns = `id, profile_id, action_type, payload, entity_key, idempotency_key, status, source,
	rule_id, playbook_run_id, reason, status_reason, error, amazon_request_id, amazon_api_response,
	attempts, claimed_by, claim_expires_at, not_before, decided_by, created_at, updated_at, queued_at, applied_at, completed_at`

const liveStatuses = `('pending_approval', 'queued', 'applied')`

// throttledItems are the rows a rule's cap and cooldown count: items waiting
// for approval and every item that reached queued, whatever happened after.
const throttledItems = `(status = 'pending_approval' OR queued_at IS NOT NULL)`

func scanAction(row pgx.Row) (*models.ActionQueueItem, error) {
	var a models.ActionQueueItem
	err := row.Scan(&a.ID, &a.ProfileID, &a.ActionType, &a.Payload, &a.EntityKey, &a.IdempotencyKey, &a.Status, &a.Source,
		&a.RuleID, &a.PlaybookRunID, &a.Reason, &a.StatusReason, &a.Error, &a.AmazonRequestID, &a.AmazonAPIResponse,
		&a.Attempts, &a.ClaimedBy, &a.ClaimExpiresAt, &a.NotBefore, &a.DecidedBy, &a.CreatedAt, &a.UpdatedAt, &a.QueuedAt, &a.AppliedAt, &a.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectActions(rows pgx.Rows) ([]models.ActionQueueItem, error) {
	defer rows.Close()
	var items []models.ActionQueueItem
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	return items, rows.Err()
}

func (r *ActionRepo) Insert(ctx context.Context, item *models.ActionQueueItem) (bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO action_queue (profile_id, action_type, payload, entity_key, idempotency_key, status, source,
		                          rule_id, playbook_run_id, reason, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CASE WHEN $6 = 'queued' THEN now() END)
		ON CONFLICT (idempotency_key) WHERE status IN `+liveStatuses+` DO NOTHING
		RETURNING id, created_at, updated_at, queued_at
	`, item.ProfileID, item.ActionType, item.Payload, item.EntityKey, item.IdempotencyKey, item.Status, item.Source,
		item.RuleID, item.PlaybookRunID, item.Reason,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt, &item.QueuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ActionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ActionQueueItem, error) {
	a, err := scanAction(r.pool.QueryRow(ctx, `SELECT `+actionColumns+` FROM action_queue WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	return a, err
}

func (r *ActionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.ActionQueueItem, error) {
	a, err := scanAction(r.pool.QueryRow(ctx, `
		SELECT `+actionColumns+` FROM action_queue
		WHERE idempotency_key = $1 AND status IN `+liveStatuses, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	return a, err
}

func (r *ActionRepo) Transition(ctx context.Context, id uuid.UUID, from, to models.ActionStatus, u queue.StatusUpdate) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE action_queue
		SET status = $3,
		    status_reason = COALESCE($4, status_reason),
		    error = COALESCE($5, error),
		    decided_by = COALESCE($6, decided_by),
		    completed_at = CASE WHEN $7 THEN now() ELSE completed_at END,
		    queued_at = CASE WHEN $3 = 'queued' THEN COALESCE(queued_at, now()) ELSE queued_at END,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		  AND (claim_expires_at IS NULL OR claim_expires_at < now())
	`, id, from, to, nullString(u.Reason), nullString(u.Error), u.ActorID, to.IsTerminal())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return queue.ErrStaleState
	}
	return nil
}

func (r *ActionRepo) Claim(ctx context.Context, workerID string, lease time.Duration, limit int) ([]models.ActionQueueItem, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := r.pool.Query(ctx, `
		UPDATE action_queue
		SET claimed_by = $1,
		    claim_expires_at = now() + make_interval(secs => $2),
		    updated_at = now()
		WHERE id IN (
			SELECT a.id FROM action_queue a
			LEFT JOIN guardrail_settings g ON g.profile_id = a.profile_id
			WHERE a.status = 'queued'
			  AND (a.claim_expires_at IS NULL OR a.claim_expires_at < now())
			  AND (a.not_before IS NULL OR a.not_before <= now())
			  AND COALESCE(g.automation_enabled, true)
			ORDER BY a.created_at
			LIMIT $3
			FOR UPDATE OF a SKIP LOCKED
		)
		RETURNING `+actionColumns, workerID, lease.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	return collectActions(rows)
}

func (r *ActionRepo) Complete(ctx context.Context, id uuid.UUID, workerID string, to models.ActionStatus, u queue.StatusUpdate) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE action_queue
		SET status = $3,
		    status_reason = COALESCE($4, status_reason),
		    error = COALESCE($5, error),
		    amazon_request_id = COALESCE($6, amazon_request_id),
		    amazon_api_response = COALESCE($7, amazon_api_response),
		    applied_at = CASE WHEN $3 = 'applied' THEN now() ELSE applied_at END,
		    completed_at = now(),
		    claimed_by = NULL,
		    claim_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'queued' AND claimed_by = $2
	`, id, workerID, to, nullString(u.Reason), nullString(u.Error), nullString(u.RequestID), nullJSON(u.Response))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return queue.ErrClaimLost
	}
	return nil
}

func (r *ActionRepo) Release(ctx context.Context, id uuid.UUID, workerID string, notBefore *time.Time, countAttempt bool, lastErr string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE action_queue
		SET claimed_by = NULL,
		    claim_expires_at = NULL,
		    not_before = $3,
		    attempts = attempts + CASE WHEN $4 THEN 1 ELSE 0 END,
		    error = COALESCE($5, error),
		    updated_at = now()
		WHERE id = $1 AND status = 'queued' AND claimed_by = $2
	`, id, workerID, notBefore, countAttempt, nullString(lastErr))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return queue.ErrClaimLost
	}
	return nil
}

func (r *ActionRepo) List(ctx context.Context, f queue.Filter) ([]models.ActionQueueItem, error) {
	query := `SELECT ` + actionColumns + ` FROM action_queue`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.ProfileID != "" {
		where = append(where, fmt.Sprintf("profile_id = $%d", argIdx))
		args = append(args, f.ProfileID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.RuleID != nil {
		where = append(where, fmt.Sprintf("rule_id = $%d", argIdx))
		args = append(args, *f.RuleID)
		argIdx++
	}
	if f.Source != "" {
		where = append(where, fmt.Sprintf("source = $%d", argIdx))
		args = append(args, f.Source)
		argIdx++
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectActions(rows)
}

// CountRuleActionsSince counts the rule's items that are pending approval and
// were created since, or that reached queued since.
func (r *ActionRepo) CountRuleActionsSince(ctx context.Context, ruleID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM action_queue
		WHERE rule_id = $1 AND `+throttledItems+`
		  AND COALESCE(queued_at, created_at) >= $2
	`, ruleID, since).Scan(&n)
	return n, err
}

func (r *ActionRepo) LastRuleActionOnEntity(ctx context.Context, ruleID uuid.UUID, entityKey string) (*time.Time, error) {
	var last *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT max(COALESCE(queued_at, created_at)) FROM action_queue
		WHERE rule_id = $1 AND entity_key = $2 AND `+throttledItems+`
	`, ruleID, entityKey).Scan(&last)
	return last, err
}

// CountRuleQueuedSince counts only items that actually reached queued.
func (r *ActionRepo) CountRuleQueuedSince(ctx context.Context, ruleID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM action_queue WHERE rule_id = $1 AND queued_at >= $2
	`, ruleID, since).Scan(&n)
	return n, err
}

func (r *ActionRepo) LastRuleQueuedOnEntity(ctx context.Context, ruleID uuid.UUID, entityKey string) (*time.Time, error) {
	var last *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT max(queued_at) FROM action_queue WHERE rule_id = $1 AND entity_key = $2
	`, ruleID, entityKey).Scan(&last)
	return last, err
}

// ListAppliedSince feeds outcome attribution: every action applied for a
// profile at or after since, oldest first.
func (r *ActionRepo) ListAppliedSince(ctx context.Context, profileID string, since time.Time) ([]models.ActionQueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+actionColumns+` FROM action_queue
		WHERE profile_id = $1 AND status = 'applied' AND applied_at >= $2
		ORDER BY applied_at
	`, profileID, since)
	if err != nil {
		return nil, err
	}
	return collectActions(rows)
}

// CountByStatus summarises a profile's queue for the dashboard.
func (r *ActionRepo) CountByStatus(ctx context.Context, profileID string) (map[models.ActionStatus]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*) FROM action_queue WHERE profile_id = $1 GROUP BY status
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[models.ActionStatus]int)
	for rows.Next() {
		var s models.ActionStatus
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
