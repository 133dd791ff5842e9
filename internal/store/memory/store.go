// Package memory is an in-process store. Transactions are serialized by a
// single mutex and stage their writes until commit, so a failed transaction
// leaves no trace. It backs tests and local runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/store"
)

type transferKey struct {
	sender uuid.UUID
	token  string
}

type Store struct {
	mu sync.Mutex

	accounts  map[uuid.UUID]*models.Account
	audit     []*models.AuditEntry
	transfers map[transferKey]*models.TransferReceipt
	jobs      map[uuid.UUID]*models.GenerationJob

	defaultMargin decimal.Decimal
	margins       map[string]decimal.Decimal
	baseCosts     map[string]decimal.Decimal

	pendingConflicts int
	lastStamp        time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:  make(map[uuid.UUID]*models.Account),
		transfers: make(map[transferKey]*models.TransferReceipt),
		jobs:      make(map[uuid.UUID]*models.GenerationJob),
		margins:   make(map[string]decimal.Decimal),
		baseCosts: make(map[string]decimal.Decimal),
	}
}

// InjectConflicts makes the next n transactions fail at commit with
// store.ErrConflict after running their body.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingConflicts = n
}

// SetDefaultMargin sets the global margin percent.
func (s *Store) SetDefaultMargin(pct decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultMargin = pct
}

// SetToolMargin overrides the margin percent for one tool type.
func (s *Store) SetToolMargin(toolType string, pct decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.margins[toolType] = pct
}

// SetToolBaseCost overrides the base cost for one tool type.
func (s *Store) SetToolBaseCost(toolType string, cost decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCosts[toolType] = cost
}

// stamp returns a strictly increasing timestamp so ordering follows commit order.
func (s *Store) stamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:         s,
		accounts:  make(map[uuid.UUID]*models.Account),
		transfers: make(map[transferKey]*models.TransferReceipt),
		jobs:      make(map[uuid.UUID]*models.GenerationJob),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if s.pendingConflicts > 0 {
		s.pendingConflicts--
		return store.ErrConflict
	}
	tx.commit()
	return nil
}

func (s *Store) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return store.ErrDuplicate
	}
	now := s.stamp()
	a.CreatedAt, a.UpdatedAt = now, now
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) SetAccountActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Active = active
	a.UpdatedAt = s.stamp()
	return nil
}

func inWindow(t time.Time, f store.AuditFilter) bool {
	if f.Since != nil && t.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !t.Before(*f.Until) {
		return false
	}
	return true
}

func (s *Store) ListAuditByAccount(_ context.Context, accountID uuid.UUID, f store.AuditFilter) ([]*models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if e.AccountID != accountID || !inWindow(e.CreatedAt, f) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) SumAuditByAccount(_ context.Context, accountID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, e := range s.audit {
		if e.AccountID == accountID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (s *Store) AggregateAuditByCategory(_ context.Context, f store.AuditFilter) (map[models.Category]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.Category]int64)
	for _, e := range s.audit {
		if inWindow(e.CreatedAt, f) {
			out[e.Category] += e.Amount
		}
	}
	return out, nil
}

func (s *Store) CreateJob(ctx context.Context, j *models.GenerationJob, after store.AfterInsertFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return store.ErrDuplicate
	}
	if after != nil {
		if err := after(ctx, nil); err != nil {
			return err
		}
	}
	now := s.stamp()
	j.CreatedAt, j.UpdatedAt = now, now
	s.jobs[j.ID] = copyJob(j)
	return nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (s *Store) ListJobsByAccount(_ context.Context, accountID uuid.UUID) ([]*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.GenerationJob
	for _, j := range s.jobs {
		if j.AccountID == accountID {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *Store) ListStaleJobs(_ context.Context, createdBefore time.Time, limit int) ([]*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.GenerationJob
	for _, j := range s.jobs {
		if j.Status == models.JobStatusProcessing && j.CreatedAt.Before(createdBefore) {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PricingSettings(_ context.Context, toolType string) (models.PricingSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := models.PricingSettings{ToolType: toolType, DefaultMargin: s.defaultMargin}
	if m, ok := s.margins[toolType]; ok {
		p.MarginOverride = &m
	}
	if c, ok := s.baseCosts[toolType]; ok {
		p.BaseCostOverride = &c
	}
	return p, nil
}

// Entries returns a copy of the whole audit log in commit order.
func (s *Store) Entries() []*models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditEntry, len(s.audit))
	for i, e := range s.audit {
		cp := *e
		out[i] = &cp
	}
	return out
}

func copyJob(j *models.GenerationJob) *models.GenerationJob {
	cp := *j
	return &cp
}

// memTx runs with Store.mu held; it stages writes and applies them on commit.
type memTx struct {
	s         *Store
	accounts  map[uuid.UUID]*models.Account
	audit     []*models.AuditEntry
	transfers map[transferKey]*models.TransferReceipt
	jobs      map[uuid.UUID]*models.GenerationJob
}

func (t *memTx) account(id uuid.UUID) (*models.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, false
	}
	cp := *a
	t.accounts[id] = &cp
	return &cp, true
}

func (t *memTx) GetAccountForUpdate(_ context.Context, id uuid.UUID) (*models.Account, error) {
	a, ok := t.account(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) UpdateBalance(_ context.Context, id uuid.UUID, balance int64) error {
	a, ok := t.account(id)
	if !ok {
		return store.ErrNotFound
	}
	a.Balance = balance
	return nil
}

func (t *memTx) InsertAudit(ctx context.Context, e *models.AuditEntry) error {
	if e.Reference != nil {
		if _, err := t.FindAuditByReference(ctx, e.AccountID, *e.Reference); err == nil {
			return store.ErrDuplicate
		}
	}
	cp := *e
	t.audit = append(t.audit, &cp)
	return nil
}

func (t *memTx) FindAuditByReference(_ context.Context, accountID uuid.UUID, ref string) (*models.AuditEntry, error) {
	for _, list := range [][]*models.AuditEntry{t.s.audit, t.audit} {
		for _, e := range list {
			if e.AccountID == accountID && e.Reference != nil && *e.Reference == ref {
				cp := *e
				return &cp, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (t *memTx) FindTransfer(_ context.Context, senderID uuid.UUID, token string) (*models.TransferReceipt, error) {
	k := transferKey{senderID, token}
	if r, ok := t.transfers[k]; ok {
		cp := *r
		return &cp, nil
	}
	if r, ok := t.s.transfers[k]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (t *memTx) InsertTransfer(ctx context.Context, r *models.TransferReceipt) error {
	if _, err := t.FindTransfer(ctx, r.SenderID, r.Token); err == nil {
		return store.ErrDuplicate
	}
	cp := *r
	t.transfers[transferKey{r.SenderID, r.Token}] = &cp
	return nil
}

func (t *memTx) GetJobForUpdate(_ context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	if j, ok := t.jobs[id]; ok {
		return copyJob(j), nil
	}
	j, ok := t.s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (t *memTx) UpdateJob(_ context.Context, j *models.GenerationJob) error {
	if _, ok := t.s.jobs[j.ID]; !ok {
		if _, staged := t.jobs[j.ID]; !staged {
			return store.ErrNotFound
		}
	}
	t.jobs[j.ID] = copyJob(j)
	return nil
}

func (t *memTx) commit() {
	s := t.s
	for id, a := range t.accounts {
		if orig, ok := s.accounts[id]; ok && orig.Balance != a.Balance {
			a.UpdatedAt = s.stamp()
		}
		s.accounts[id] = a
	}
	for _, e := range t.audit {
		e.CreatedAt = s.stamp()
		s.audit = append(s.audit, e)
	}
	for k, r := range t.transfers {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.stamp()
		}
		s.transfers[k] = r
	}
	for id, j := range t.jobs {
		j.UpdatedAt = s.stamp()
		s.jobs[id] = j
	}
}
