package ledger

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/store"
	"github.com/inaiurai/credits/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	svc := NewService(st, nil)
	svc.backoff = 0
	return svc, st
}

func open(t *testing.T, svc *Service, name string, bonus int64, role string) uuid.UUID {
	t.Helper()
	acc, err := svc.OpenAccount(context.Background(), OpenRequest{ID: uuid.New(), DisplayName: name, Role: role, SignupBonus: bonus})
	require.NoError(t, err)
	return acc.ID
}

func entriesFor(st *memory.Store, id uuid.UUID) []*models.AuditEntry {
	var out []*models.AuditEntry
	for _, e := range st.Entries() {
		if e.AccountID == id {
			out = append(out, e)
		}
	}
	return out
}

func balance(t *testing.T, svc *Service, id uuid.UUID) int64 {
	t.Helper()
	b, err := svc.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

// ---------------------------------------------------------------------------
// Debit / Credit
// ---------------------------------------------------------------------------

func TestDebit_ToolUse(t *testing.T) {
	svc, st := newTestService(t)
	id := open(t, svc, "ana", 100, "")

	res, err := svc.Debit(context.Background(), id, 30, models.CategoryToolDeduction, "image-generation")
	require.NoError(t, err)
	assert.Equal(t, int64(70), res.NewBalance)
	assert.Equal(t, int64(70), balance(t, svc, id))

	entries := entriesFor(st, id)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(-30), entries[0].Amount)
	assert.Equal(t, models.CategoryToolDeduction, entries[0].Category)
}

func TestDebit_InsufficientBalanceLeavesNoTrace(t *testing.T) {
	svc, st := newTestService(t)
	id := open(t, svc, "ana", 10, "")

	_, err := svc.Debit(context.Background(), id, 11, models.CategoryToolDeduction, "video-generation")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	assert.Equal(t, int64(10), balance(t, svc, id))
	assert.Empty(t, entriesFor(st, id))
}

func TestDebit_PrivilegedBypass(t *testing.T) {
	svc, st := newTestService(t)
	id := open(t, svc, "ops", 5, models.RolePrivileged)

	res, err := svc.Debit(context.Background(), id, 999, models.CategoryToolDeduction, "video-generation")
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.NewBalance)
	assert.Equal(t, int64(5), balance(t, svc, id))

	entries := entriesFor(st, id)
	require.Len(t, entries, 1)
	assert.Zero(t, entries[0].Amount)
	assert.Equal(t, models.CategoryPrivilegedBypass, entries[0].Category)
	assert.Contains(t, entries[0].Description, string(models.CategoryToolDeduction))
}

func TestDebit_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	id := open(t, svc, "ana", 10, "")
	ctx := context.Background()

	_, err := svc.Debit(ctx, id, 0, models.CategoryToolDeduction, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Debit(ctx, uuid.New(), 1, models.CategoryToolDeduction, "")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, svc.Deactivate(ctx, id))
	_, err = svc.Debit(ctx, id, 1, models.CategoryToolDeduction, "")
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestDebitInTx_ReferenceIsIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	id := open(t, svc, "ana", 50, "")
	ctx := context.Background()
	req := DebitRequest{AccountID: id, Amount: 20, Category: models.CategoryToolDeduction, Reference: "job:1"}

	for i := 0; i < 2; i++ {
		err := st.WithTx(ctx, func(tx store.Tx) error {
			res, err := svc.DebitInTx(ctx, tx, req)
			if err != nil {
				return err
			}
			assert.Equal(t, int64(30), res.NewBalance)
			assert.Equal(t, i == 1, res.Replayed)
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(30), balance(t, svc, id))
	assert.Len(t, entriesFor(st, id), 1)
}

func TestDebit_ConcurrentCannotOverdraw(t *testing.T) {
	svc, st := newTestService(t)
	id := open(t, svc, "ana", 100, "")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), id, 10, models.CategoryToolDeduction, "race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 15, rejected)
	assert.Zero(t, balance(t, svc, id))
	assert.Len(t, entriesFor(st, id), 10)
}

func TestCredit(t *testing.T) {
	svc, st := newTestService(t)
	id := open(t, svc, "ana", 0, "")
	ctx := context.Background()

	res, err := svc.Credit(ctx, id, 25, models.CategoryPurchase, "starter pack")
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.NewBalance)
	assert.Len(t, entriesFor(st, id), 1)

	_, err = svc.Credit(ctx, id, -5, models.CategoryPurchase, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Credit(ctx, uuid.New(), 5, models.CategoryPurchase, "")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCredit_RejectsOverflow(t *testing.T) {
	svc, st := newTestService(t)
	id := open(t, svc, "ana", 10, "")

	_, err := svc.Credit(context.Background(), id, math.MaxInt64, models.CategoryAdminAdjustment, "typo")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, int64(10), balance(t, svc, id))
	assert.Empty(t, entriesFor(st, id))
}

// ---------------------------------------------------------------------------
// Transfer
// ---------------------------------------------------------------------------

func TestTransfer_MovesBothSidesTogether(t *testing.T) {
	svc, st := newTestService(t)
	a := open(t, svc, "ana", 50, "")
	b := open(t, svc, "ben", 5, "")

	res, err := svc.Transfer(context.Background(), TransferRequest{SenderID: a, ReceiverID: b, Amount: 20, Token: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.NewBalance)
	assert.Equal(t, "ben", res.ReceiverDisplayName)
	assert.Equal(t, int64(30), balance(t, svc, a))
	assert.Equal(t, int64(25), balance(t, svc, b))

	out := entriesFor(st, a)
	in := entriesFor(st, b)
	require.Len(t, out, 1)
	require.Len(t, in, 1)
	assert.Equal(t, models.CategoryTransferOut, out[0].Category)
	assert.Equal(t, int64(-20), out[0].Amount)
	assert.Equal(t, models.CategoryTransferIn, in[0].Category)
	assert.Equal(t, int64(20), in[0].Amount)
}

func TestTransfer_ToSelf(t *testing.T) {
	svc, _ := newTestService(t)
	a := open(t, svc, "ana", 50, "")

	_, err := svc.Transfer(context.Background(), TransferRequest{SenderID: a, ReceiverID: a, Amount: 1})
	assert.ErrorIs(t, err, ErrInvalidTransfer)
}

func TestTransfer_ReceiverCheckLeavesSenderUntouched(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	a := open(t, svc, "ana", 50, "")
	gone := open(t, svc, "gone", 0, "")
	require.NoError(t, svc.Deactivate(ctx, gone))

	for _, receiver := range []uuid.UUID{uuid.New(), gone} {
		_, err := svc.Transfer(ctx, TransferRequest{SenderID: a, ReceiverID: receiver, Amount: 10, Token: "x"})
		if !errors.Is(err, ErrReceiverNotFound) {
			t.Fatalf("expected ErrReceiverNotFound, got %v", err)
		}
	}
	assert.Equal(t, int64(50), balance(t, svc, a))
	assert.Empty(t, st.Entries())
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	svc, st := newTestService(t)
	a := open(t, svc, "ana", 10, "")
	b := open(t, svc, "ben", 0, "")

	_, err := svc.Transfer(context.Background(), TransferRequest{SenderID: a, ReceiverID: b, Amount: 11})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(10), balance(t, svc, a))
	assert.Zero(t, balance(t, svc, b))
	assert.Empty(t, st.Entries())
}

func TestTransfer_PrivilegedSenderStillNeedsBalance(t *testing.T) {
	svc, _ := newTestService(t)
	a := open(t, svc, "ops", 0, models.RolePrivileged)
	b := open(t, svc, "ben", 0, "")

	_, err := svc.Transfer(context.Background(), TransferRequest{SenderID: a, ReceiverID: b, Amount: 1})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestTransfer_TokenReplay(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	a := open(t, svc, "ana", 50, "")
	b := open(t, svc, "ben", 0, "")
	req := TransferRequest{SenderID: a, ReceiverID: b, Amount: 15, Token: "retry-me"}

	first, err := svc.Transfer(ctx, req)
	require.NoError(t, err)
	second, err := svc.Transfer(ctx, req)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.NewBalance, second.NewBalance)
	assert.Equal(t, int64(35), balance(t, svc, a))
	assert.Equal(t, int64(15), balance(t, svc, b))
	assert.Len(t, st.Entries(), 2)

	req.Amount = 16
	_, err = svc.Transfer(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidTransfer)
}

func TestTransfer_RejectsReceiverOverflow(t *testing.T) {
	svc, st := newTestService(t)
	a := open(t, svc, "ana", 50, "")
	b := open(t, svc, "ben", math.MaxInt64-5, "")

	_, err := svc.Transfer(context.Background(), TransferRequest{SenderID: a, ReceiverID: b, Amount: 10})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, int64(50), balance(t, svc, a))
	assert.Equal(t, int64(math.MaxInt64-5), balance(t, svc, b))
	assert.Empty(t, st.Entries())
}

// racingStore commits a competing transfer just before the first
// transaction it hands out, and hides that receipt from the transaction's
// lookup. It reproduces two retries of one token that both missed the
// receipt before either committed.
type racingStore struct {
	*memory.Store
	winner func()
	raced  bool
}

type staleReceiptTx struct{ store.Tx }

func (staleReceiptTx) FindTransfer(context.Context, uuid.UUID, string) (*models.TransferReceipt, error) {
	return nil, store.ErrNotFound
}

func (s *racingStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if s.winner == nil || s.raced {
		return s.Store.WithTx(ctx, fn)
	}
	s.raced = true
	s.winner()
	return s.Store.WithTx(ctx, func(tx store.Tx) error { return fn(staleReceiptTx{tx}) })
}

func TestTransfer_ConcurrentRetryReplays(t *testing.T) {
	mem := memory.New()
	rs := &racingStore{Store: mem}
	svc := NewService(rs, nil)
	svc.backoff = 0
	ctx := context.Background()
	a := open(t, svc, "ana", 50, "")
	b := open(t, svc, "ben", 0, "")
	req := TransferRequest{SenderID: a, ReceiverID: b, Amount: 15, Token: "timeout-retry"}

	var winner TransferResult
	rs.winner = func() {
		var err error
		winner, err = svc.Transfer(ctx, req)
		require.NoError(t, err)
	}

	res, err := svc.Transfer(ctx, req)
	require.NoError(t, err, "a duplicate receipt must replay, not fail")
	assert.False(t, winner.Replayed)
	assert.True(t, res.Replayed)
	assert.Equal(t, int64(35), res.NewBalance)
	assert.Equal(t, int64(35), balance(t, svc, a))
	assert.Equal(t, int64(15), balance(t, svc, b))
	assert.Len(t, mem.Entries(), 2)
}

func TestTransfer_OpposingConcurrentTransfers(t *testing.T) {
	svc, _ := newTestService(t)
	a := open(t, svc, "ana", 100, "")
	b := open(t, svc, "ben", 100, "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Transfer(context.Background(), TransferRequest{SenderID: a, ReceiverID: b, Amount: 7})
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Transfer(context.Background(), TransferRequest{SenderID: b, ReceiverID: a, Amount: 5})
		}()
	}
	wg.Wait()

	total := balance(t, svc, a) + balance(t, svc, b)
	assert.Equal(t, int64(200), total)
}

// ---------------------------------------------------------------------------
// Conflict retry
// ---------------------------------------------------------------------------

func TestConflictsAreRetried(t *testing.T) {
	svc, st := newTestService(t)
	id := open(t, svc, "ana", 100, "")

	st.InjectConflicts(maxAttempts - 1)
	res, err := svc.Debit(context.Background(), id, 10, models.CategoryToolDeduction, "")
	require.NoError(t, err)
	assert.Equal(t, int64(90), res.NewBalance)
	assert.Len(t, entriesFor(st, id), 1)
}

func TestConflictsSurfaceAfterBudget(t *testing.T) {
	svc, st := newTestService(t)
	id := open(t, svc, "ana", 100, "")

	st.InjectConflicts(maxAttempts)
	_, err := svc.Debit(context.Background(), id, 10, models.CategoryToolDeduction, "")
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.Equal(t, int64(100), balance(t, svc, id))
	assert.Empty(t, entriesFor(st, id))
}

// ---------------------------------------------------------------------------
// Accounts and reconciliation
// ---------------------------------------------------------------------------

func TestEnsureAccount_OpensOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := uuid.New()

	first, err := svc.EnsureAccount(ctx, OpenRequest{ID: id, DisplayName: "ana", SignupBonus: 25})
	require.NoError(t, err)
	assert.Equal(t, int64(25), first.Balance)
	assert.Equal(t, int64(25), first.InitialGrant)

	_, err = svc.Debit(ctx, id, 5, models.CategoryToolDeduction, "")
	require.NoError(t, err)

	again, err := svc.EnsureAccount(ctx, OpenRequest{ID: id, DisplayName: "ana", SignupBonus: 25})
	require.NoError(t, err)
	assert.Equal(t, int64(20), again.Balance)

	_, err = svc.OpenAccount(ctx, OpenRequest{ID: id})
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestCanAfford(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	id := open(t, svc, "ana", 10, "")
	vip := open(t, svc, "ops", 0, models.RolePrivileged)

	ok, err := svc.CanAfford(ctx, id, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.CanAfford(ctx, id, 11)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.CanAfford(ctx, vip, 1000)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReconcile_RandomizedOperations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	ids := []uuid.UUID{
		open(t, svc, "a", 100, ""),
		open(t, svc, "b", 0, ""),
		open(t, svc, "c", 30, ""),
		open(t, svc, "d", 5, models.RolePrivileged),
	}
	pick := func() uuid.UUID { return ids[rng.Intn(len(ids))] }
	credits := []models.Category{models.CategoryPurchase, models.CategoryAdReward, models.CategoryReferral, models.CategoryAdminAdjustment}

	for i := 0; i < 500; i++ {
		amount := int64(rng.Intn(40) + 1)
		var err error
		switch rng.Intn(3) {
		case 0:
			_, err = svc.Debit(ctx, pick(), amount, models.CategoryToolDeduction, "random")
		case 1:
			_, err = svc.Credit(ctx, pick(), amount, credits[rng.Intn(len(credits))], "random")
		case 2:
			_, err = svc.Transfer(ctx, TransferRequest{SenderID: pick(), ReceiverID: pick(), Amount: amount})
		}
		if err != nil && !errors.Is(err, ErrInsufficientBalance) && !errors.Is(err, ErrInvalidTransfer) {
			t.Fatalf("op %d: unexpected error %v", i, err)
		}
		for _, id := range ids {
			if b := balance(t, svc, id); b < 0 {
				t.Fatalf("op %d: negative balance %d on %s", i, b, id)
			}
		}
	}

	for _, id := range ids {
		r, err := svc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.True(t, r.Consistent(), "account %s drift %d", id, r.Drift)
	}
}
