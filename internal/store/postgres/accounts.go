package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/store"
)

const accountColumns = `id, display_name, balance, initial_grant, role, active, created_at, updated_at`

func scanAccount(row interface{ Scan(dest ...any) error }) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.DisplayName, &a.Balance, &a.InitialGrant, &a.Role, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, display_name, balance, initial_grant, role, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, a.ID, a.DisplayName, a.Balance, a.InitialGrant, a.Role, a.Active).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (s *Store) SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetAccountForUpdate locks the account row until the transaction ends.
func (t *pgTx) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

// UpdateBalance sets the balance of a row previously locked with GetAccountForUpdate.
func (t *pgTx) UpdateBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2, updated_at = now() WHERE id = $1`, id, balance)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) FindTransfer(ctx context.Context, senderID uuid.UUID, token string) (*models.TransferReceipt, error) {
	var r models.TransferReceipt
	err := t.tx.QueryRow(ctx, `
		SELECT sender_id, token, receiver_id, amount, sender_balance, receiver_display_name, created_at
		FROM transfer_receipts WHERE sender_id = $1 AND token = $2
	`, senderID, token).Scan(&r.SenderID, &r.Token, &r.ReceiverID, &r.Amount, &r.SenderBalance, &r.ReceiverDisplayName, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (t *pgTx) InsertTransfer(ctx context.Context, r *models.TransferReceipt) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transfer_receipts (sender_id, token, receiver_id, amount, sender_balance, receiver_display_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, r.SenderID, r.Token, r.ReceiverID, r.Amount, r.SenderBalance, r.ReceiverDisplayName).Scan(&r.CreatedAt)
	return mapErr(err)
}
