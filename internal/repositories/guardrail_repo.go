package repositories

import (
	"context"
	"errors"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GuardrailRepo stores per-profile guardrail settings and protected entities.
// It implements guardrail.Reader.
type GuardrailRepo struct {
	pool *pgxpool.Pool
}

func NewGuardrailRepo(pool *pgxpool.Pool) *GuardrailRepo {
	return &GuardrailRepo{pool: pool}
}

func (r *GuardrailRepo) GetGuardrails(ctx context.Context, profileID string) (*models.GuardrailSettings, error) {
	g := models.DefaultGuardrails(profileID)
	err := r.pool.QueryRow(ctx, `
		SELECT automation_enabled, bid_min_micros, bid_max_micros, approval_threshold_pct, updated_at
		FROM guardrail_settings WHERE profile_id = $1
	`, profileID).Scan(&g.AutomationEnabled, &g.BidMinMicros, &g.BidMaxMicros, &g.ApprovalThresholdPct, &g.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	protected, err := r.ListProtected(ctx, profileID)
	if err != nil {
		return nil, err
	}
	g.ProtectedEntities = protected
	return g, nil
}

// UpsertSettings writes the numeric limits and the kill switch. Protected
// entities are managed separately.
func (r *GuardrailRepo) UpsertSettings(ctx context.Context, g *models.GuardrailSettings) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO guardrail_settings (profile_id, automation_enabled, bid_min_micros, bid_max_micros, approval_threshold_pct)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (profile_id) DO UPDATE SET
			automation_enabled = EXCLUDED.automation_enabled,
			bid_min_micros = EXCLUDED.bid_min_micros,
			bid_max_micros = EXCLUDED.bid_max_micros,
			approval_threshold_pct = EXCLUDED.approval_threshold_pct,
			updated_at = now()
		RETURNING updated_at
	`, g.ProfileID, g.AutomationEnabled, g.BidMinMicros, g.BidMaxMicros, g.ApprovalThresholdPct).Scan(&g.UpdatedAt)
}

func (r *GuardrailRepo) SetAutomationEnabled(ctx context.Context, profileID string, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO guardrail_settings (profile_id, automation_enabled)
		VALUES ($1, $2)
		ON CONFLICT (profile_id) DO UPDATE SET automation_enabled = EXCLUDED.automation_enabled, updated_at = now()
	`, profileID, enabled)
	return err
}

func (r *GuardrailRepo) ListProtected(ctx context.Context, profileID string) ([]models.ProtectedEntity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entity_type, entity_id, reason, created_at
		FROM protected_entities WHERE profile_id = $1
		ORDER BY entity_type, entity_id
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ProtectedEntity
	for rows.Next() {
		var pe models.ProtectedEntity
		if err := rows.Scan(&pe.EntityType, &pe.EntityID, &pe.Reason, &pe.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, pe)
	}
	return out, rows.Err()
}

func (r *GuardrailRepo) AddProtected(ctx context.Context, profileID string, pe *models.ProtectedEntity) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO protected_entities (profile_id, entity_type, entity_id, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (profile_id, entity_type, entity_id) DO UPDATE SET reason = EXCLUDED.reason
		RETURNING created_at
	`, profileID, pe.EntityType, pe.EntityID, pe.Reason).Scan(&pe.CreatedAt)
}

// RemoveProtected reports whether an entry was removed.
func (r *GuardrailRepo) RemoveProtected(ctx context.Context, profileID string, t models.EntityType, entityID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM protected_entities WHERE profile_id = $1 AND entity_type = $2 AND entity_id = $3
	`, profileID, t, entityID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
