// Package store defines the persistence contract for accounts, the audit log,
// transfer receipts, generation jobs and pricing settings. Implementations live
// in store/postgres and store/memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/credits/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned on a unique constraint violation.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict is returned when the transaction lost a serialization race
	// and may be retried.
	ErrConflict = errors.New("store: concurrency conflict")
)

// Tx is the set of operations available inside one atomic unit of work.
// Rows read with a ForUpdate method stay locked until the transaction ends.
type Tx interface {
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateBalance(ctx context.Context, id uuid.UUID, balance int64) error

	InsertAudit(ctx context.Context, e *models.AuditEntry) error
	// FindAuditByReference returns ErrNotFound when no entry carries ref for the account.
	FindAuditByReference(ctx context.Context, accountID uuid.UUID, ref string) (*models.AuditEntry, error)

	// FindTransfer returns ErrNotFound when no receipt exists for (senderID, token).
	FindTransfer(ctx context.Context, senderID uuid.UUID, token string) (*models.TransferReceipt, error)
	InsertTransfer(ctx context.Context, r *models.TransferReceipt) error

	GetJobForUpdate(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	UpdateJob(ctx context.Context, j *models.GenerationJob) error
}

// AfterInsertFunc runs inside the job insert transaction, e.g. to enqueue
// background work atomically with the job row. tx is nil for stores that are
// not backed by Postgres.
type AfterInsertFunc func(ctx context.Context, tx pgx.Tx) error

// AuditFilter narrows audit log queries. Zero values mean unbounded.
type AuditFilter struct {
	Since *time.Time
	Until *time.Time
	Limit int
}

// Store is the full persistence contract.
type Store interface {
	// WithTx runs fn in a transaction. fn's error rolls everything back;
	// serialization failures surface as ErrConflict.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error

	ListAuditByAccount(ctx context.Context, accountID uuid.UUID, f AuditFilter) ([]*models.AuditEntry, error)
	SumAuditByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	AggregateAuditByCategory(ctx context.Context, f AuditFilter) (map[models.Category]int64, error)

	CreateJob(ctx context.Context, j *models.GenerationJob, after AfterInsertFunc) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	ListJobsByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.GenerationJob, error)
	// ListStaleJobs returns processing jobs created before the cutoff.
	ListStaleJobs(ctx context.Context, createdBefore time.Time, limit int) ([]*models.GenerationJob, error)

	PricingSettings(ctx context.Context, toolType string) (models.PricingSettings, error)
}
