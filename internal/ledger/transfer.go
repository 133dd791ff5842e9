package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/audit"
	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/store"
)

// TransferRequest moves credits between two accounts. Token is the client's
// request token; retries carrying the same token replay the first outcome.
type TransferRequest struct {
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	Amount     int64
	Token      string
}

type TransferResult struct {
	NewBalance          int64  `json:"new_balance"`
	ReceiverDisplayName string `json:"receiver_display_name"`
	Replayed            bool   `json:"replayed,omitempty"`
}

// Transfer debits the sender and credits the receiver in one transaction. Both
// rows are locked in UUID order so opposing transfers cannot deadlock. The
// receiver is resolved after locking, immediately before the writes.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if req.SenderID == req.ReceiverID {
		return TransferResult{}, fmt.Errorf("%w: cannot transfer to self", ErrInvalidTransfer)
	}
	if req.Amount <= 0 {
		return TransferResult{}, ErrInvalidAmount
	}

	var res TransferResult
	err := s.InTx(ctx, "transfer", func(tx store.Tx) error {
		var err error
		res, err = s.transferInTx(ctx, tx, req)
		return err
	})
	if err != nil {
		s.log.Warn("ledger: transfer rejected", "sender_id", req.SenderID, "receiver_id", req.ReceiverID, "amount", req.Amount, "error", err)
		return TransferResult{}, err
	}
	if !res.Replayed {
		s.log.Info("ledger: transfer committed", "sender_id", req.SenderID, "receiver_id", req.ReceiverID, "amount", req.Amount)
	}
	return res, nil
}

func (s *Service) transferInTx(ctx context.Context, tx store.Tx, req TransferRequest) (TransferResult, error) {
	ids := []uuid.UUID{req.SenderID, req.ReceiverID}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	locked := make(map[uuid.UUID]*models.Account, 2)
	for _, id := range ids {
		acc, err := tx.GetAccountForUpdate(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			if id == req.ReceiverID {
				return TransferResult{}, fmt.Errorf("%w: %s", ErrReceiverNotFound, id)
			}
			return TransferResult{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		if err != nil {
			return TransferResult{}, fmt.Errorf("lock account: %w", err)
		}
		locked[id] = acc
	}
	sender, receiver := locked[req.SenderID], locked[req.ReceiverID]
	// The receipt is read with both rows locked, so a concurrent retry with the
	// same token waits for the first to commit and then replays it.
	if req.Token != "" {
		prior, err := tx.FindTransfer(ctx, req.SenderID, req.Token)
		switch {
		case err == nil:
			if prior.ReceiverID != req.ReceiverID || prior.Amount != req.Amount {
				return TransferResult{}, fmt.Errorf("%w: request token %q already used for a different transfer", ErrInvalidTransfer, req.Token)
			}
			return TransferResult{NewBalance: prior.SenderBalance, ReceiverDisplayName: prior.ReceiverDisplayName, Replayed: true}, nil
		case !errors.Is(err, store.ErrNotFound):
			return TransferResult{}, fmt.Errorf("find transfer receipt: %w", err)
		}
	}
	if !receiver.Active {
		return TransferResult{}, fmt.Errorf("%w: %s is inactive", ErrReceiverNotFound, receiver.ID)
	}
	if !sender.Active {
		return TransferResult{}, fmt.Errorf("%w: %s", ErrAccountInactive, sender.ID)
	}
	// Transfers move real balance, so privileged accounts get no bypass here.
	if sender.Balance < req.Amount {
		return TransferResult{}, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientBalance, sender.Balance, req.Amount)
	}
	if req.Amount > math.MaxInt64-receiver.Balance {
		return TransferResult{}, fmt.Errorf("%w: transfer of %d overflows receiver balance", ErrInvalidAmount, req.Amount)
	}

	senderBalance := sender.Balance - req.Amount
	receiverBalance := receiver.Balance + req.Amount
	if err := tx.UpdateBalance(ctx, sender.ID, senderBalance); err != nil {
		return TransferResult{}, fmt.Errorf("update sender balance: %w", err)
	}
	if err := tx.UpdateBalance(ctx, receiver.ID, receiverBalance); err != nil {
		return TransferResult{}, fmt.Errorf("update receiver balance: %w", err)
	}

	var ref *string
	if req.Token != "" {
		r := "transfer:" + req.SenderID.String() + ":" + req.Token
		ref = &r
	}
	if err := audit.Record(ctx, tx, &models.AuditEntry{
		AccountID:   sender.ID,
		Amount:      -req.Amount,
		Category:    models.CategoryTransferOut,
		Description: "to " + receiver.DisplayName,
		Reference:   ref,
	}); err != nil {
		return TransferResult{}, err
	}
	if err := audit.Record(ctx, tx, &models.AuditEntry{
		AccountID:   receiver.ID,
		Amount:      req.Amount,
		Category:    models.CategoryTransferIn,
		Description: "from " + sender.DisplayName,
		Reference:   ref,
	}); err != nil {
		return TransferResult{}, err
	}

	if req.Token != "" {
		if err := tx.InsertTransfer(ctx, &models.TransferReceipt{
			SenderID:            sender.ID,
			Token:               req.Token,
			ReceiverID:          receiver.ID,
			Amount:              req.Amount,
			SenderBalance:       senderBalance,
			ReceiverDisplayName: receiver.DisplayName,
		}); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				// Lost the race to a concurrent retry; rerun so it replays.
				return TransferResult{}, fmt.Errorf("insert transfer receipt: %w", store.ErrConflict)
			}
			return TransferResult{}, fmt.Errorf("insert transfer receipt: %w", err)
		}
	}
	return TransferResult{NewBalance: senderBalance, ReceiverDisplayName: receiver.DisplayName}, nil
}
