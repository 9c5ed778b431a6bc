package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AlertRepo struct {
	pool *pgxpool.Pool
}

func NewAlertRepo(pool *pgxpool.Pool) *AlertRepo {
	return &AlertRepo{pool: pool}
}

const alertColumns = `id, profile_id, rule_id, entity_type, entity_id, severity, state, title, message, data,
	created_at, acknowledged_at, acknowledged_by`

func scanAlert(row pgx.Row) (*models.Alert, error) {
	var a models.Alert
	err := row.Scan(&a.ID, &a.ProfileID, &a.RuleID, &a.EntityType, &a.EntityID, &a.Severity, &a.State, &a.Title,
		&a.Message, &a.Data, &a.CreatedAt, &a.AcknowledgedAt, &a.AcknowledgedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AlertRepo) Create(ctx context.Context, a *models.Alert) error {
	if a.State == "" {
		a.State = models.AlertStateNew
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO alerts (profile_id, rule_id, entity_type, entity_id, severity, state, title, message, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, a.ProfileID, a.RuleID, a.EntityType, a.EntityID, a.Severity, a.State, a.Title, a.Message, a.Data,
	).Scan(&a.ID, &a.CreatedAt)
}

func (r *AlertRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	return scanAlert(r.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
}

type AlertFilter struct {
	ProfileID string
	State     models.AlertState
	Severity  models.Severity
	RuleID    *uuid.UUID
	Since     *time.Time
	Limit     int
	Offset    int
}

func (r *AlertRepo) List(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.ProfileID != "" {
		where = append(where, fmt.Sprintf("profile_id = $%d", argIdx))
		args = append(args, f.ProfileID)
		argIdx++
	}
	if f.State != "" {
		where = append(where, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, f.State)
		argIdx++
	}
	if f.Severity != "" {
		where = append(where, fmt.Sprintf("severity = $%d", argIdx))
		args = append(args, f.Severity)
		argIdx++
	}
	if f.RuleID != nil {
		where = append(where, fmt.Sprintf("rule_id = $%d", argIdx))
		args = append(args, *f.RuleID)
		argIdx++
	}
	if f.Since != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *f.Since)
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
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// LastRuleAlertOnEntity returns when rule last alerted on the entity, or nil.
func (r *AlertRepo) LastRuleAlertOnEntity(ctx context.Context, ruleID uuid.UUID, entityType models.EntityType, entityID string) (*time.Time, error) {
	var last *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT max(created_at) FROM alerts
		WHERE rule_id = $1 AND entity_type = $2 AND entity_id = $3
	`, ruleID, entityType, entityID).Scan(&last)
	return last, err
}

// Acknowledge marks a new alert acknowledged. A second acknowledgement returns
// the alert unchanged with ErrAlreadyAcknowledged.
func (r *AlertRepo) Acknowledge(ctx context.Context, id uuid.UUID, by *uuid.UUID) (*models.Alert, error) {
	a, err := scanAlert(r.pool.QueryRow(ctx, `
		UPDATE alerts
		SET state = 'acknowledged', acknowledged_at = now(), acknowledged_by = $2
		WHERE id = $1 AND state = 'new'
		RETURNING `+alertColumns, id, by))
	if errors.Is(err, ErrNotFound) {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return existing, ErrAlreadyAcknowledged
	}
	return a, err
}
