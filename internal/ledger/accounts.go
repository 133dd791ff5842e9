package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/store"
)

// OpenRequest registers a new account. SignupBonus becomes both the opening
// balance and the initial grant; it has no audit entry.
type OpenRequest struct {
	ID          uuid.UUID
	DisplayName string
	Role        string
	SignupBonus int64
}

func (s *Service) OpenAccount(ctx context.Context, req OpenRequest) (*models.Account, error) {
	if req.SignupBonus < 0 {
		return nil, ErrInvalidAmount
	}
	role := req.Role
	if role == "" {
		role = models.RoleOrdinary
	}
	if role != models.RoleOrdinary && role != models.RolePrivileged {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	acc := &models.Account{
		ID:           req.ID,
		DisplayName:  req.DisplayName,
		Balance:      req.SignupBonus,
		InitialGrant: req.SignupBonus,
		Role:         role,
		Active:       true,
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrAccountExists, req.ID)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.log.Info("ledger: account opened", "account_id", acc.ID, "role", acc.Role, "signup_bonus", acc.InitialGrant)
	return acc, nil
}

// EnsureAccount returns the account, opening it on first contact.
func (s *Service) EnsureAccount(ctx context.Context, req OpenRequest) (*models.Account, error) {
	acc, err := s.Account(ctx, req.ID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	acc, err = s.OpenAccount(ctx, req)
	if errors.Is(err, ErrAccountExists) {
		// Lost a race with a concurrent first request.
		return s.Account(ctx, req.ID)
	}
	return acc, err
}

// Deactivate marks the account inactive. Accounts are never deleted.
func (s *Service) Deactivate(ctx context.Context, accountID uuid.UUID) error {
	err := s.store.SetAccountActive(ctx, accountID, false)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	s.log.Info("ledger: account deactivated", "account_id", accountID)
	return nil
}

// Reconciliation compares a balance with what the audit log says it should be.
type Reconciliation struct {
	AccountID    uuid.UUID `json:"account_id"`
	Balance      int64     `json:"balance"`
	InitialGrant int64     `json:"initial_grant"`
	AuditSum     int64     `json:"audit_sum"`
	// Drift is Balance - (InitialGrant + AuditSum); zero when consistent.
	Drift int64 `json:"drift"`
}

func (r Reconciliation) Consistent() bool { return r.Drift == 0 }

// Reconcile reads the balance on both sides of the audit sum and retries if
// it moved, so a concurrent mutation is not reported as drift.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) (Reconciliation, error) {
	for attempt := 1; ; attempt++ {
		before, err := s.Account(ctx, accountID)
		if err != nil {
			return Reconciliation{}, err
		}
		sum, err := s.store.SumAuditByAccount(ctx, accountID)
		if err != nil {
			return Reconciliation{}, fmt.Errorf("sum audit entries: %w", err)
		}
		after, err := s.Account(ctx, accountID)
		if err != nil {
			return Reconciliation{}, err
		}
		if before.Balance == after.Balance || attempt == maxAttempts {
			r := Reconciliation{
				AccountID:    accountID,
				Balance:      after.Balance,
				InitialGrant: after.InitialGrant,
				AuditSum:     sum,
				Drift:        after.Balance - (after.InitialGrant + sum),
			}
			if !r.Consistent() {
				s.log.Error("ledger: reconciliation drift", "account_id", accountID, "drift", r.Drift)
			}
			return r, nil
		}
	}
}
