// Package ledger is the only code path that changes account balances. Every
// mutation locks the affected account rows and writes its audit entries in the
// same store transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/audit"
	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/store"
)

const (
	maxAttempts    = 3
	defaultBackoff = 20 * time.Millisecond
)

// Result is the outcome of a single-account mutation.
type Result struct {
	NewBalance int64 `json:"new_balance"`
	// Replayed is set when the reference had already been applied and nothing changed.
	Replayed bool `json:"replayed,omitempty"`
}

// DebitRequest describes one debit. Reference, when set, makes the debit
// idempotent per account: a second debit with the same reference is a no-op.
type DebitRequest struct {
	AccountID   uuid.UUID
	Amount      int64
	Category    models.Category
	Description string
	Reference   string
}

type Service struct {
	store   store.Store
	log     *slog.Logger
	backoff time.Duration
}

func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, log: logger, backoff: defaultBackoff}
}

// InTx runs fn in a store transaction, retrying serialization failures.
func (s *Service) InTx(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		s.log.Warn("ledger: concurrency conflict", "op", op, "attempt", attempt, "error", err)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrConcurrencyConflict, op, maxAttempts, err)
}

func lockAccount(ctx context.Context, tx store.Tx, id uuid.UUID) (*models.Account, error) {
	acc, err := tx.GetAccountForUpdate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return acc, nil
}

// Debit removes amount from the account. Privileged accounts are never
// charged; the use is recorded as a zero-amount privileged-bypass entry.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, amount int64, category models.Category, description string) (Result, error) {
	req := DebitRequest{AccountID: accountID, Amount: amount, Category: category, Description: description}
	var res Result
	err := s.InTx(ctx, "debit", func(tx store.Tx) error {
		var err error
		res, err = s.DebitInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// DebitInTx applies a debit inside a transaction owned by the caller. The
// account row stays locked until that transaction ends.
func (s *Service) DebitInTx(ctx context.Context, tx store.Tx, req DebitRequest) (Result, error) {
	if req.Amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	if !req.Category.Valid() {
		return Result{}, fmt.Errorf("%w: category %q", audit.ErrInvalidEntry, req.Category)
	}
	acc, err := lockAccount(ctx, tx, req.AccountID)
	if err != nil {
		return Result{}, err
	}
	var ref *string
	if req.Reference != "" {
		_, err := tx.FindAuditByReference(ctx, req.AccountID, req.Reference)
		if err == nil {
			return Result{NewBalance: acc.Balance, Replayed: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Result{}, fmt.Errorf("find audit reference: %w", err)
		}
		ref = &req.Reference
	}
	if !acc.Active {
		return Result{}, fmt.Errorf("%w: %s", ErrAccountInactive, acc.ID)
	}

	if acc.IsPrivileged() {
		err := audit.Record(ctx, tx, &models.AuditEntry{
			AccountID:   acc.ID,
			Amount:      0,
			Category:    models.CategoryPrivilegedBypass,
			Description: fmt.Sprintf("%s %d: %s", req.Category, req.Amount, req.Description),
			Reference:   ref,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{NewBalance: acc.Balance}, nil
	}

	if acc.Balance < req.Amount {
		return Result{}, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientBalance, acc.Balance, req.Amount)
	}
	newBalance := acc.Balance - req.Amount
	if err := tx.UpdateBalance(ctx, acc.ID, newBalance); err != nil {
		return Result{}, fmt.Errorf("update balance: %w", err)
	}
	err = audit.Record(ctx, tx, &models.AuditEntry{
		AccountID:   acc.ID,
		Amount:      -req.Amount,
		Category:    req.Category,
		Description: req.Description,
		Reference:   ref,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{NewBalance: newBalance}, nil
}

// Credit adds amount to an existing account.
func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, amount int64, category models.Category, description string) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	if !category.Valid() {
		return Result{}, fmt.Errorf("%w: category %q", audit.ErrInvalidEntry, category)
	}
	var res Result
	err := s.InTx(ctx, "credit", func(tx store.Tx) error {
		acc, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if amount > math.MaxInt64-acc.Balance {
			return fmt.Errorf("%w: credit of %d overflows balance %d", ErrInvalidAmount, amount, acc.Balance)
		}
		newBalance := acc.Balance + amount
		if err := tx.UpdateBalance(ctx, acc.ID, newBalance); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if err := audit.Record(ctx, tx, &models.AuditEntry{
			AccountID:   acc.ID,
			Amount:      amount,
			Category:    category,
			Description: description,
		}); err != nil {
			return err
		}
		res = Result{NewBalance: newBalance}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// Balance returns the committed balance.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	acc, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// CanAfford is an advisory, non-locking check. The authoritative check
// happens again when the debit runs.
func (s *Service) CanAfford(ctx context.Context, accountID uuid.UUID, amount int64) (bool, error) {
	acc, err := s.Account(ctx, accountID)
	if err != nil {
		return false, err
	}
	if !acc.Active {
		return false, fmt.Errorf("%w: %s", ErrAccountInactive, acc.ID)
	}
	return acc.IsPrivileged() || acc.Balance >= amount, nil
}

func (s *Service) Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acc, nil
}
