package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/store"
)

const jobColumns = `id, account_id, tool_type, status, cost_quote, charge_applied, charge_shortfall,
	external_ref, input_params, output_ref, error_detail, poll_attempts, created_at, updated_at, finished_at`

func scanJob(row interface{ Scan(dest ...any) error }) (*models.GenerationJob, error) {
	var j models.GenerationJob
	err := row.Scan(&j.ID, &j.AccountID, &j.ToolType, &j.Status, &j.CostQuote, &j.ChargeApplied, &j.ChargeShortfall,
		&j.ExternalRef, &j.InputParams, &j.OutputRef, &j.ErrorDetail, &j.PollAttempts, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &j, nil
}

// CreateJob inserts the job and runs after in the same transaction, so the
// job row and its background work commit together.
func (s *Store) CreateJob(ctx context.Context, j *models.GenerationJob, after store.AfterInsertFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapErr(err))
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO generation_jobs (id, account_id, tool_type, status, cost_quote, input_params)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, j.ID, j.AccountID, j.ToolType, j.Status, j.CostQuote, j.InputParams).Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", mapErr(err))
	}
	if after != nil {
		if err := after(ctx, tx); err != nil {
			return err
		}
	}
	return mapErr(tx.Commit(ctx))
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	return scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id))
}

func (s *Store) ListJobsByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.GenerationJob, error) {
	return s.listJobs(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
}

func (s *Store) ListStaleJobs(ctx context.Context, createdBefore time.Time, limit int) ([]*models.GenerationJob, error) {
	return s.listJobs(ctx, `
		SELECT `+jobColumns+` FROM generation_jobs
		WHERE status = 'processing' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, createdBefore, limit)
}

func (s *Store) listJobs(ctx context.Context, q string, args ...any) ([]*models.GenerationJob, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var list []*models.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// GetJobForUpdate locks the job row so concurrent finalizers serialize on it.
func (t *pgTx) GetJobForUpdate(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	return scanJob(t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateJob(ctx context.Context, j *models.GenerationJob) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE generation_jobs SET status = $2, charge_applied = $3, charge_shortfall = $4, external_ref = $5,
			output_ref = $6, error_detail = $7, poll_attempts = $8, finished_at = $9, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, j.ID, j.Status, j.ChargeApplied, j.ChargeShortfall, j.ExternalRef,
		j.OutputRef, j.ErrorDetail, j.PollAttempts, j.FinishedAt).Scan(&j.UpdatedAt)
	return mapErr(err)
}
