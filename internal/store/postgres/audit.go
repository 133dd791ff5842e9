package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/store"
)

const auditColumns = `id, account_id, amount, category, description, reference, created_at`

func scanAudit(row interface{ Scan(dest ...any) error }) (*models.AuditEntry, error) {
	var e models.AuditEntry
	if err := row.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Category, &e.Description, &e.Reference, &e.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}

// InsertAudit appends an entry inside the transaction. created_at comes from
// clock_timestamp() so it tracks the order of writes rather than tx start.
func (t *pgTx) InsertAudit(ctx context.Context, e *models.AuditEntry) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO audit_entries (id, account_id, amount, category, description, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.AccountID, e.Amount, e.Category, e.Description, e.Reference).Scan(&e.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) FindAuditByReference(ctx context.Context, accountID uuid.UUID, ref string) (*models.AuditEntry, error) {
	return scanAudit(t.tx.QueryRow(ctx, `
		SELECT `+auditColumns+` FROM audit_entries WHERE account_id = $1 AND reference = $2
	`, accountID, ref))
}

// windowClause appends created_at bounds for f to where, numbering
// placeholders after the existing args.
func windowClause(where []string, args []any, f store.AuditFilter) ([]string, []any) {
	if f.Since != nil {
		args = append(args, *f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	return where, args
}

func (s *Store) ListAuditByAccount(ctx context.Context, accountID uuid.UUID, f store.AuditFilter) ([]*models.AuditEntry, error) {
	where, args := windowClause([]string{"account_id = $1"}, []any{accountID}, f)
	q := `SELECT ` + auditColumns + ` FROM audit_entries WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var list []*models.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (s *Store) SumAuditByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM audit_entries WHERE account_id = $1
	`, accountID).Scan(&total)
	return total, mapErr(err)
}

func (s *Store) AggregateAuditByCategory(ctx context.Context, f store.AuditFilter) (map[models.Category]int64, error) {
	where, args := windowClause([]string{"TRUE"}, nil, f)
	rows, err := s.pool.Query(ctx, `
		SELECT category, COALESCE(SUM(amount), 0)::BIGINT
		FROM audit_entries WHERE `+strings.Join(where, " AND ")+`
		GROUP BY category
	`, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	out := make(map[models.Category]int64)
	for rows.Next() {
		var c models.Category
		var sum int64
		if err := rows.Scan(&c, &sum); err != nil {
			return nil, err
		}
		out[c] = sum
	}
	return out, rows.Err()
}
