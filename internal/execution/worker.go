package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/credits/internal/models"
)

const defaultPollInterval = 10 * time.Second

// GenerationArgs drives one generation job from dispatch to a terminal state.
type GenerationArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (GenerationArgs) Kind() string { return "generation" }

func (GenerationArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 10}
}

// JobAdvancer defines the contract the worker needs to move a job forward.
type JobAdvancer interface {
	Advance(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error)
}

// GenerationWorker dispatches the job on its first run and polls the provider
// on later runs. While the job is still processing the worker snoozes instead
// of blocking, so no goroutine is held for the job's lifetime.
type GenerationWorker struct {
	river.WorkerDefaults[GenerationArgs]
	jobs         JobAdvancer
	pollInterval time.Duration
	log          *slog.Logger
}

func NewGenerationWorker(jobs JobAdvancer, pollInterval time.Duration, log *slog.Logger) *GenerationWorker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &GenerationWorker{jobs: jobs, pollInterval: pollInterval, log: log}
}

func (w *GenerationWorker) Work(ctx context.Context, job *river.Job[GenerationArgs]) error {
	gj, err := w.jobs.Advance(ctx, job.Args.JobID)
	if err != nil {
		return fmt.Errorf("advance generation job %s: %w", job.Args.JobID, err)
	}
	if !gj.Status.Terminal() {
		return river.JobSnooze(w.pollInterval)
	}
	w.log.Info("generation job finished", "job_id", gj.ID, "status", gj.Status, "charge_applied", gj.ChargeApplied)
	return nil
}

// SweepArgs is the periodic pass over processing jobs that outlived their
// polling window, e.g. because their generation job was discarded.
type SweepArgs struct{}

func (SweepArgs) Kind() string { return "generation_sweep" }

// StaleSweeper defines the contract the sweep worker needs.
type StaleSweeper interface {
	SweepStale(ctx context.Context) (int, error)
}

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	jobs StaleSweeper
	log  *slog.Logger
}

func NewSweepWorker(jobs StaleSweeper, log *slog.Logger) *SweepWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SweepWorker{jobs: jobs, log: log}
}

func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	n, err := w.jobs.SweepStale(ctx)
	if err != nil {
		return fmt.Errorf("sweep stale generation jobs: %w", err)
	}
	if n > 0 {
		w.log.Info("swept stale generation jobs", "count", n)
	}
	return nil
}
