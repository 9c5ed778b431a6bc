package repositories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/OwaisMaq/ppc-pal-sub003/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlaybookRepo stores playbook definitions and their runs. It implements
// playbook.RunStore.
type PlaybookRepo struct {
	pool *pgxpool.Pool
}

func NewPlaybookRepo(pool *pgxpool.Pool) *PlaybookRepo {
	return &PlaybookRepo{pool: pool}
}

const playbookColumns = `id, profile_id, name, template, params, enabled, created_at, updated_at`

func scanPlaybook(row pgx.Row) (*models.PlaybookDefinition, error) {
	var p models.PlaybookDefinition
	err := row.Scan(&p.ID, &p.ProfileID, &p.Name, &p.Template, &p.Params, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PlaybookRepo) Create(ctx context.Context, p *models.PlaybookDefinition) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO playbooks (profile_id, name, template, params, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, p.ProfileID, p.Name, p.Template, paramsOrEmpty(p.Params), p.Enabled).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PlaybookRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PlaybookDefinition, error) {
	return scanPlaybook(r.pool.QueryRow(ctx, `SELECT `+playbookColumns+` FROM playbooks WHERE id = $1`, id))
}

func (r *PlaybookRepo) ListByProfile(ctx context.Context, profileID string) ([]models.PlaybookDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+playbookColumns+` FROM playbooks WHERE profile_id = $1 ORDER BY created_at
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PlaybookDefinition
	for rows.Next() {
		p, err := scanPlaybook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PlaybookRepo) Update(ctx context.Context, p *models.PlaybookDefinition) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE playbooks SET name = $2, params = $3, enabled = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, p.ID, p.Name, paramsOrEmpty(p.Params), p.Enabled).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *PlaybookRepo) CreateRun(ctx context.Context, run *models.PlaybookRun) error {
	steps, err := json.Marshal(stepsOrEmpty(run.Steps))
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO playbook_runs (id, playbook_id, profile_id, mode, status, steps, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.ID, run.PlaybookID, run.ProfileID, run.Mode, run.Status, steps, run.StartedAt)
	return err
}

// FinishRun writes the outcome of a running run. A run is finished exactly once.
func (r *PlaybookRepo) FinishRun(ctx context.Context, run *models.PlaybookRun) error {
	steps, err := json.Marshal(stepsOrEmpty(run.Steps))
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE playbook_runs
		SET status = $2, actions_proposed = $3, actions_enqueued = $4, duplicates_ignored = $5,
		    alerts_created = $6, steps = $7, error = $8, finished_at = $9
		WHERE id = $1 AND status = 'running'
	`, run.ID, run.Status, run.ActionsProposed, run.ActionsEnqueued, run.DuplicatesIgnored,
		run.AlertsCreated, steps, run.Error, run.FinishedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotRunning
	}
	return nil
}

const runColumns = `id, playbook_id, profile_id, mode, status, actions_proposed, actions_enqueued,
	duplicates_ignored, alerts_created, steps, error, started_at, finished_at`

func scanRun(row pgx.Row) (*models.PlaybookRun, error) {
	var run models.PlaybookRun
	var steps []byte
	err := row.Scan(&run.ID, &run.PlaybookID, &run.ProfileID, &run.Mode, &run.Status, &run.ActionsProposed,
		&run.ActionsEnqueued, &run.DuplicatesIgnored, &run.AlertsCreated, &steps, &run.Error, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &run.Steps); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

func (r *PlaybookRepo) GetRun(ctx context.Context, id uuid.UUID) (*models.PlaybookRun, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM playbook_runs WHERE id = $1`, id))
}

func (r *PlaybookRepo) ListRuns(ctx context.Context, playbookID uuid.UUID, limit, offset int) ([]models.PlaybookRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+` FROM playbook_runs
		WHERE playbook_id = $1
		ORDER BY started_at DESC LIMIT $2 OFFSET $3
	`, playbookID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PlaybookRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func stepsOrEmpty(steps []models.PlaybookStep) []models.PlaybookStep {
	if steps == nil {
		return []models.PlaybookStep{}
	}
	return steps
}
