// Package audit is the append-only record of balance-affecting events. Entries
// are written inside the ledger's transactions and never updated.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/store"
)

// ErrInvalidEntry is returned for an entry with an unknown category or no account.
var ErrInvalidEntry = errors.New("invalid audit entry")

// Reader is the query side of the store used by the audit log.
type Reader interface {
	ListAuditByAccount(ctx context.Context, accountID uuid.UUID, f store.AuditFilter) ([]*models.AuditEntry, error)
	AggregateAuditByCategory(ctx context.Context, f store.AuditFilter) (map[models.Category]int64, error)
}

type Log struct {
	reader Reader
}

func New(reader Reader) *Log {
	return &Log{reader: reader}
}

// Record appends e inside tx. The ID is assigned here; the timestamp is
// assigned by the store at write time.
func Record(ctx context.Context, tx store.Tx, e *models.AuditEntry) error {
	if e.AccountID == uuid.Nil {
		return fmt.Errorf("%w: missing account", ErrInvalidEntry)
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: category %q", ErrInvalidEntry, e.Category)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if err := tx.InsertAudit(ctx, e); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// QueryByAccount returns the account's entries newest first. since is an
// inclusive lower bound on CreatedAt; to fetch only what arrived after a known
// point, re-query with the newest timestamp already seen (or later) as since.
func (l *Log) QueryByAccount(ctx context.Context, accountID uuid.UUID, since *time.Time, limit int) ([]*models.AuditEntry, error) {
	list, err := l.reader.ListAuditByAccount(ctx, accountID, store.AuditFilter{Since: since, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	if list == nil {
		list = []*models.AuditEntry{}
	}
	return list, nil
}

// AggregateByCategory sums amounts per category over [since, until). An empty
// log yields an empty map.
func (l *Log) AggregateByCategory(ctx context.Context, since, until *time.Time) (map[models.Category]int64, error) {
	out, err := l.reader.AggregateAuditByCategory(ctx, store.AuditFilter{Since: since, Until: until})
	if err != nil {
		return nil, fmt.Errorf("aggregate audit entries: %w", err)
	}
	if out == nil {
		out = map[models.Category]int64{}
	}
	return out, nil
}

// Summary is the platform-wide reconciliation view.
type Summary struct {
	ByCategory map[models.Category]int64 `json:"by_category"`
	// FreeIssued is credits granted through rewards and referrals.
	FreeIssued int64 `json:"free_issued"`
	// PaidPurchased is credits bought.
	PaidPurchased int64 `json:"paid_purchased"`
	// Consumed is credits spent on tools, as a positive number.
	Consumed int64 `json:"consumed"`
	// FreeToPaidRatio is FreeIssued / PaidPurchased, 0 when nothing was purchased.
	FreeToPaidRatio float64 `json:"free_to_paid_ratio"`
}

func (l *Log) Summary(ctx context.Context, since, until *time.Time) (Summary, error) {
	agg, err := l.AggregateByCategory(ctx, since, until)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{ByCategory: agg}
	for c, sum := range agg {
		switch {
		case c.IsFreeIssue():
			s.FreeIssued += sum
		case c == models.CategoryPurchase:
			s.PaidPurchased += sum
		case c == models.CategoryToolDeduction:
			s.Consumed -= sum
		}
	}
	if s.PaidPurchased > 0 {
		s.FreeToPaidRatio = float64(s.FreeIssued) / float64(s.PaidPurchased)
	}
	return s, nil
}
