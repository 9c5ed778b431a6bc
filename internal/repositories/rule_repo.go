package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyAcknowledged = errors.New("alert is already acknowledged")
	ErrRunNotRunning       = errors.New("playbook run is not running")
)

type RuleRepo struct {
	pool *pgxpool.Pool
}

func NewRuleRepo(pool *pgxpool.Pool) *RuleRepo {
	return &RuleRepo{pool: pool}
}

const ruleColumns = `id, profile_id, name, rule_type, mode, enabled, params, action,
	cooldown_hours, max_actions_per_day, last_run_at, created_at, updated_at`

func scanRule(row pgx.Row) (*models.AutomationRule, error) {
	var r models.AutomationRule
	err := row.Scan(&r.ID, &r.ProfileID, &r.Name, &r.RuleType, &r.Mode, &r.Enabled, &r.Params, &r.Action,
		&r.Throttle.CooldownHours, &r.Throttle.MaxActionsPerDay, &r.LastRunAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *RuleRepo) Create(ctx context.Context, rule *models.AutomationRule) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO automation_rules (profile_id, name, rule_type, mode, enabled, params, action, cooldown_hours, max_actions_per_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, rule.ProfileID, rule.Name, rule.RuleType, rule.Mode, rule.Enabled, paramsOrEmpty(rule.Params), rule.Action,
		rule.Throttle.CooldownHours, rule.Throttle.MaxActionsPerDay,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

func (r *RuleRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.AutomationRule, error) {
	return scanRule(r.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id))
}

func (r *RuleRepo) ListByProfile(ctx context.Context, profileID string) ([]models.AutomationRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules WHERE profile_id = $1 ORDER BY created_at
	`, profileID)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// ListEnabled returns enabled rules of every profile whose kill switch is on.
func (r *RuleRepo) ListEnabled(ctx context.Context) ([]models.AutomationRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prefixed("r.", ruleColumns)+`
		FROM automation_rules r
		LEFT JOIN guardrail_settings g ON g.profile_id = r.profile_id
		WHERE r.enabled AND COALESCE(g.automation_enabled, true)
		ORDER BY r.profile_id, r.created_at
	`)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

func collectRules(rows pgx.Rows) ([]models.AutomationRule, error) {
	defer rows.Close()
	var rules []models.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// Update writes the mutable configuration of a rule. Rules are never deleted.
func (r *RuleRepo) Update(ctx context.Context, rule *models.AutomationRule) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE automation_rules
		SET name = $2, mode = $3, enabled = $4, params = $5, action = $6,
		    cooldown_hours = $7, max_actions_per_day = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, rule.ID, rule.Name, rule.Mode, rule.Enabled, paramsOrEmpty(rule.Params), rule.Action,
		rule.Throttle.CooldownHours, rule.Throttle.MaxActionsPerDay,
	).Scan(&rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *RuleRepo) MarkRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE automation_rules SET last_run_at = $2 WHERE id = $1`, id, at)
	return err
}

func paramsOrEmpty(p models.Params) models.Params {
	if p == nil {
		return models.Params{}
	}
	return p
}

// prefixed qualifies every column of a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
