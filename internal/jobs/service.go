// Package jobs runs generation jobs through processing -> completed | failed |
// timeout (or canceled). Only a completed job is ever charged, and the charge
// commits in the same transaction as the status change.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/credits/internal/audit"
	"github.com/inaiurai/credits/internal/execution"
	"github.com/inaiurai/credits/internal/ledger"
	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/pricing"
	"github.com/inaiurai/credits/internal/provider"
	"github.com/inaiurai/credits/internal/store"
)

// InsertGenerationTxFunc enqueues the generation worker inside the job insert
// transaction. Provided by main using river.Client.InsertTx; tx is nil with the
// memory store.
type InsertGenerationTxFunc func(ctx context.Context, tx pgx.Tx, args execution.GenerationArgs) error

// Ledger is the subset of the ledger the orchestrator charges through.
type Ledger interface {
	CanAfford(ctx context.Context, accountID uuid.UUID, amount int64) (bool, error)
	InTx(ctx context.Context, op string, fn func(tx store.Tx) error) error
	DebitInTx(ctx context.Context, tx store.Tx, req ledger.DebitRequest) (ledger.Result, error)
}

// ToolValidator checks input params against the tool catalog.
type ToolValidator interface {
	Validate(toolType string, params json.RawMessage) (pricing.Usage, error)
}

type Config struct {
	// MaxPollAttempts bounds scheduled polls of one job.
	MaxPollAttempts int
	// MaxDuration bounds the wall-clock time from submission to a result.
	MaxDuration time.Duration
	// SweepBatch caps how many stale jobs one sweep visits.
	SweepBatch int
}

func (c Config) withDefaults() Config {
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 60
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 15 * time.Minute
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 100
	}
	return c
}

type Orchestrator struct {
	store    store.Store
	ledger   Ledger
	tools    ToolValidator
	provider provider.Provider
	enqueue  InsertGenerationTxFunc
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(st store.Store, l Ledger, tools ToolValidator, p provider.Provider, enqueue InsertGenerationTxFunc, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:    st,
		ledger:   l,
		tools:    tools,
		provider: p,
		enqueue:  enqueue,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

type SubmitRequest struct {
	AccountID   uuid.UUID
	ToolType    string
	InputParams json.RawMessage
	CostQuote   int64
}

// Submit validates the request, checks (advisorily) that the account can pay,
// then creates the job and enqueues its worker atomically. No job exists when
// Submit returns an error.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*models.GenerationJob, error) {
	if req.CostQuote <= 0 {
		return nil, ErrInvalidCost
	}
	if len(req.InputParams) == 0 {
		req.InputParams = json.RawMessage(`{}`)
	}
	if _, err := o.tools.Validate(req.ToolType, req.InputParams); err != nil {
		return nil, err
	}
	ok, err := o.ledger.CanAfford(ctx, req.AccountID, req.CostQuote)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job costs %d", ledger.ErrInsufficientBalance, req.CostQuote)
	}

	job := &models.GenerationJob{
		ID:          uuid.New(),
		AccountID:   req.AccountID,
		ToolType:    req.ToolType,
		Status:      models.JobStatusProcessing,
		CostQuote:   req.CostQuote,
		InputParams: req.InputParams,
	}
	err = o.store.CreateJob(ctx, job, func(ctx context.Context, tx pgx.Tx) error {
		if o.enqueue == nil {
			return nil
		}
		if err := o.enqueue(ctx, tx, execution.GenerationArgs{JobID: job.ID}); err != nil {
			return fmt.Errorf("enqueue generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.log.Info("generation job submitted", "job_id", job.ID, "account_id", job.AccountID, "tool_type", job.ToolType, "cost_quote", job.CostQuote)
	return job, nil
}

// Get returns the job if it belongs to accountID.
func (o *Orchestrator) Get(ctx context.Context, accountID, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := o.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.AccountID != accountID {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

func (o *Orchestrator) List(ctx context.Context, accountID uuid.UUID) ([]*models.GenerationJob, error) {
	list, err := o.store.ListJobsByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if list == nil {
		list = []*models.GenerationJob{}
	}
	return list, nil
}

func (o *Orchestrator) load(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Advance is the worker's single step: dispatch an undispatched job, otherwise
// poll it and count the attempt against the budget.
func (o *Orchestrator) Advance(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := o.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if !job.Dispatched() {
		if o.expired(job) {
			return o.settle(ctx, jobID, markTimeout(o.now()))
		}
		return o.Dispatch(ctx, jobID)
	}
	return o.poll(ctx, job, true)
}

// Dispatch submits the job to the provider and records its tracking handle. A
// rejection fails the job without charge; other provider errors are returned
// so the caller can retry.
func (o *Orchestrator) Dispatch(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := o.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() || job.Dispatched() {
		return job, nil
	}

	ref, err := o.provider.Submit(ctx, job.ToolType, job.InputParams)
	if errors.Is(err, provider.ErrRejected) {
		o.log.Warn("generation dispatch rejected", "job_id", jobID, "error", err)
		return o.settle(ctx, jobID, markFailed(o.now(), err.Error()))
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch job %s: %w", jobID, err)
	}

	job, err = o.settle(ctx, jobID, func(_ context.Context, _ store.Tx, j *models.GenerationJob) (bool, error) {
		if j.Dispatched() {
			return false, nil
		}
		j.ExternalRef = &ref
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("generation job dispatched", "job_id", jobID, "external_ref", ref)
	return job, nil
}

// Poll is the idempotent check-and-finalize used by observers such as the
// job status endpoint. Terminal jobs are returned untouched. Observer polls do
// not consume the scheduled attempt budget but do enforce the wall-clock bound.
func (o *Orchestrator) Poll(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := o.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return o.poll(ctx, job, false)
}

func (o *Orchestrator) poll(ctx context.Context, job *models.GenerationJob, scheduled bool) (*models.GenerationJob, error) {
	if job.Status.Terminal() {
		return job, nil
	}
	if !job.Dispatched() {
		if o.expired(job) {
			return o.settle(ctx, job.ID, markTimeout(o.now()))
		}
		return job, nil
	}

	st, err := o.provider.Status(ctx, *job.ExternalRef)
	if err != nil {
		// Transient; the attempt still counts and the bounds still apply.
		o.log.Warn("generation status check failed", "job_id", job.ID, "error", err)
		st = provider.Status{State: provider.StateRunning}
	}

	switch st.State {
	case provider.StateSucceeded:
		return o.complete(ctx, job.ID, st.OutputRef)
	case provider.StateFailed:
		o.log.Warn("generation failed at provider", "job_id", job.ID, "reason", st.Reason)
		return o.settle(ctx, job.ID, markFailed(o.now(), st.Reason))
	}

	now := o.now()
	return o.settle(ctx, job.ID, func(_ context.Context, _ store.Tx, j *models.GenerationJob) (bool, error) {
		if scheduled {
			j.PollAttempts++
		}
		if o.expired(j) || j.PollAttempts >= o.cfg.MaxPollAttempts {
			o.log.Warn("generation polling window closed", "job_id", j.ID, "poll_attempts", j.PollAttempts)
			return markTimeout(now)(ctx, nil, j)
		}
		return scheduled, nil
	})
}

// complete finalizes a successful job: output, status and the single charge
// commit together. If the account can no longer pay, the output is still
// delivered and a zero-amount charge-shortfall entry records the debt; the
// balance is left as is.
func (o *Orchestrator) complete(ctx context.Context, jobID uuid.UUID, outputRef string) (*models.GenerationJob, error) {
	now := o.now()
	job, err := o.settle(ctx, jobID, func(ctx context.Context, tx store.Tx, j *models.GenerationJob) (bool, error) {
		ref := "job:" + j.ID.String()
		_, err := o.ledger.DebitInTx(ctx, tx, ledger.DebitRequest{
			AccountID:   j.AccountID,
			Amount:      j.CostQuote,
			Category:    models.CategoryToolDeduction,
			Description: j.ToolType,
			Reference:   ref,
		})
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrInsufficientBalance), errors.Is(err, ledger.ErrAccountInactive):
			if err := audit.Record(ctx, tx, &models.AuditEntry{
				AccountID:   j.AccountID,
				Amount:      0,
				Category:    models.CategoryChargeShortfall,
				Description: fmt.Sprintf("%s: owed %d uncollected: %v", j.ToolType, j.CostQuote, err),
				Reference:   &ref,
			}); err != nil {
				return false, err
			}
			j.ChargeShortfall = j.CostQuote
		default:
			return false, fmt.Errorf("charge job: %w", err)
		}
		j.OutputRef = &outputRef
		j.ChargeApplied = true
		j.Status = models.JobStatusCompleted
		j.FinishedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if job.ChargeShortfall > 0 {
		o.log.Warn("generation delivered with charge shortfall", "job_id", job.ID, "account_id", job.AccountID, "shortfall", job.ChargeShortfall)
	} else if job.Status == models.JobStatusCompleted {
		o.log.Info("generation completed", "job_id", job.ID, "account_id", job.AccountID, "charged", job.CostQuote)
	}
	return job, nil
}

// Cancel moves a processing job owned by accountID to canceled. Canceled jobs
// are never charged, even if the provider later finishes.
func (o *Orchestrator) Cancel(ctx context.Context, accountID, jobID uuid.UUID) (*models.GenerationJob, error) {
	if _, err := o.Get(ctx, accountID, jobID); err != nil {
		return nil, err
	}
	now := o.now()
	job, err := o.settle(ctx, jobID, func(_ context.Context, _ store.Tx, j *models.GenerationJob) (bool, error) {
		j.Status = models.JobStatusCanceled
		j.FinishedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCanceled {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobTerminal, jobID, job.Status)
	}
	o.log.Info("generation job canceled", "job_id", jobID, "account_id", accountID)
	return job, nil
}

// SweepStale advances processing jobs older than the polling window. It
// catches jobs whose worker gave up or was lost.
func (o *Orchestrator) SweepStale(ctx context.Context) (int, error) {
	cutoff := o.now().Add(-o.cfg.MaxDuration)
	stale, err := o.store.ListStaleJobs(ctx, cutoff, o.cfg.SweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	n := 0
	for _, j := range stale {
		if _, err := o.poll(ctx, j, true); err != nil {
			o.log.Error("sweep stale job failed", "job_id", j.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func (o *Orchestrator) expired(j *models.GenerationJob) bool {
	return o.now().Sub(j.CreatedAt) >= o.cfg.MaxDuration
}

// transition mutates a locked, still-processing job and reports whether it
// changed.
type transition func(ctx context.Context, tx store.Tx, j *models.GenerationJob) (bool, error)

// settle locks the job row, re-checks that it is still processing and applies
// fn in one transaction. A job that another observer already finalized is
// returned as is, which makes every finalization idempotent.
func (o *Orchestrator) settle(ctx context.Context, jobID uuid.UUID, fn transition) (*models.GenerationJob, error) {
	var out *models.GenerationJob
	err := o.ledger.InTx(ctx, "finalize job", func(tx store.Tx) error {
		j, err := tx.GetJobForUpdate(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		out = j
		if j.Status.Terminal() {
			return nil
		}
		changed, err := fn(ctx, tx, j)
		if err != nil || !changed {
			return err
		}
		if err := tx.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func markFailed(now time.Time, reason string) transition {
	return func(_ context.Context, _ store.Tx, j *models.GenerationJob) (bool, error) {
		j.Status = models.JobStatusFailed
		j.ErrorDetail = &reason
		j.FinishedAt = &now
		return true, nil
	}
}

func markTimeout(now time.Time) transition {
	return func(_ context.Context, _ store.Tx, j *models.GenerationJob) (bool, error) {
		detail := MessageTimeout
		j.Status = models.JobStatusTimeout
		j.ErrorDetail = &detail
		j.FinishedAt = &now
		return true, nil
	}
}
