package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/store"
	"github.com/inaiurai/credits/internal/store/memory"
)

func seed(t *testing.T, st *memory.Store, entries ...models.AuditEntry) {
	t.Helper()
	for i := range entries {
		e := entries[i]
		err := st.WithTx(context.Background(), func(tx store.Tx) error {
			return Record(context.Background(), tx, &e)
		})
		require.NoError(t, err)
	}
}

func TestRecord_RejectsUnknownCategory(t *testing.T) {
	st := memory.New()
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		return Record(context.Background(), tx, &models.AuditEntry{AccountID: uuid.New(), Amount: 5, Category: "gift"})
	})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Empty(t, st.Entries())
}

func TestQueryByAccount_NewestFirst(t *testing.T) {
	st := memory.New()
	a, b := uuid.New(), uuid.New()
	seed(t, st,
		models.AuditEntry{AccountID: a, Amount: 10, Category: models.CategoryPurchase, Description: "first"},
		models.AuditEntry{AccountID: b, Amount: 3, Category: models.CategoryReferral},
		models.AuditEntry{AccountID: a, Amount: -4, Category: models.CategoryToolDeduction, Description: "second"},
		models.AuditEntry{AccountID: a, Amount: 2, Category: models.CategoryAdReward, Description: "third"},
	)
	log := New(st)
	ctx := context.Background()

	list, err := log.QueryByAccount(ctx, a, nil, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "third", list[0].Description)
	assert.Equal(t, "first", list[2].Description)

	limited, err := log.QueryByAccount(ctx, a, nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	since := list[1].CreatedAt
	tail, err := log.QueryByAccount(ctx, a, &since, 0)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "second", tail[1].Description)
}

func TestQueryByAccount_SinceNewestSeenReturnsOnlyLaterEntries(t *testing.T) {
	st := memory.New()
	a := uuid.New()
	seed(t, st,
		models.AuditEntry{AccountID: a, Amount: 10, Category: models.CategoryPurchase, Description: "old"},
		models.AuditEntry{AccountID: a, Amount: -4, Category: models.CategoryToolDeduction, Description: "seen"},
	)
	log := New(st)
	ctx := context.Background()

	first, err := log.QueryByAccount(ctx, a, nil, 0)
	require.NoError(t, err)
	newestSeen := first[0].CreatedAt

	seed(t, st, models.AuditEntry{AccountID: a, Amount: 5, Category: models.CategoryReferral, Description: "new"})

	next, err := log.QueryByAccount(ctx, a, &newestSeen, 0)
	require.NoError(t, err)
	require.Len(t, next, 2, "since is inclusive")
	assert.Equal(t, "new", next[0].Description)
	assert.Equal(t, "seen", next[1].Description)
}

func TestQueryByAccount_UnknownAccountIsEmpty(t *testing.T) {
	list, err := New(memory.New()).QueryByAccount(context.Background(), uuid.New(), nil, 10)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestAggregateByCategory_Empty(t *testing.T) {
	agg, err := New(memory.New()).AggregateByCategory(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, agg)
	assert.Empty(t, agg)
}

func TestSummary(t *testing.T) {
	st := memory.New()
	a := uuid.New()
	seed(t, st,
		models.AuditEntry{AccountID: a, Amount: 100, Category: models.CategoryPurchase},
		models.AuditEntry{AccountID: a, Amount: 20, Category: models.CategoryAdReward},
		models.AuditEntry{AccountID: a, Amount: 30, Category: models.CategoryReferral},
		models.AuditEntry{AccountID: a, Amount: -40, Category: models.CategoryToolDeduction},
		models.AuditEntry{AccountID: a, Amount: 0, Category: models.CategoryPrivilegedBypass},
	)
	s, err := New(st).Summary(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(50), s.FreeIssued)
	assert.Equal(t, int64(100), s.PaidPurchased)
	assert.Equal(t, int64(40), s.Consumed)
	assert.InDelta(t, 0.5, s.FreeToPaidRatio, 1e-9)
	assert.Equal(t, int64(-40), s.ByCategory[models.CategoryToolDeduction])

	future := time.Now().Add(time.Hour)
	s, err = New(st).Summary(context.Background(), &future, nil)
	require.NoError(t, err)
	assert.Zero(t, s.FreeToPaidRatio)
	assert.Empty(t, s.ByCategory)
}
