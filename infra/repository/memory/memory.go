// Package memory provides in-process implementations of the storage ports.
// They back the development profile and the service tests, and honor the
// same compare-and-set and unique-claim semantics as the SQL store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	"github.com/amirasaad/ecclesia/pkg/domain/token"
	"github.com/amirasaad/ecclesia/pkg/domain/transaction"
	"github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transactions is an in-memory repository.TransactionRepository.
type Transactions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]transaction.Transaction
	now  func() time.Time
}

// NewTransactions returns an empty store.
func NewTransactions() *Transactions {
	return &Transactions{rows: make(map[uuid.UUID]transaction.Transaction), now: time.Now}
}

// SetClock replaces the timestamp source used for CreatedAt and UpdatedAt.
func (s *Transactions) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Transactions) Create(_ context.Context, tx *transaction.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[tx.ID]; ok {
		return domain.ErrAlreadyExists
	}
	now := s.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	s.rows[tx.ID] = *tx
	return nil
}

func (s *Transactions) Get(_ context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (s *Transactions) GetByProviderID(_ context.Context, gateway, providerID string) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Gateway == gateway && row.ProviderTransactionID != nil && *row.ProviderTransactionID == providerID {
			return &row, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Transactions) FindOpen(
	_ context.Context,
	payerID uuid.UUID,
	amount decimal.Decimal,
	since time.Time,
) (*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *transaction.Transaction
	for _, row := range s.rows {
		if row.PayerID != payerID || !row.Amount.Equal(amount) || !row.IsOpen() || row.CreatedAt.Before(since) {
			continue
		}
		if best == nil || row.CreatedAt.After(best.CreatedAt) {
			r := row
			best = &r
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best, nil
}

func (s *Transactions) SetProviderID(_ context.Context, id uuid.UUID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.ProviderTransactionID = &providerID
	row.UpdatedAt = s.now()
	s.rows[id] = row
	return nil
}

func (s *Transactions) CompareAndSetStatus(
	_ context.Context,
	id uuid.UUID,
	from, to transaction.Status,
	patch repository.TransactionPatch,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	if patch.ProviderTransactionID != nil {
		v := *patch.ProviderTransactionID
		row.ProviderTransactionID = &v
	}
	if patch.RefundReason != nil {
		v := *patch.RefundReason
		row.RefundReason = &v
	}
	if patch.RefundAmount != nil {
		v := *patch.RefundAmount
		row.RefundAmount = &v
	}
	if patch.ManualRefundPending != nil {
		row.ManualRefundPending = *patch.ManualRefundPending
	}
	row.UpdatedAt = s.now()
	s.rows[id] = row
	return true, nil
}

func (s *Transactions) MarkFraud(_ context.Context, id uuid.UUID, fraud transaction.Fraud) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	fraud.Flagged = true
	row.Fraud = fraud
	row.Status = transaction.StatusRefused
	row.UpdatedAt = s.now()
	s.rows[id] = row
	return nil
}

func (s *Transactions) ListPending(_ context.Context, createdBefore time.Time, limit int) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*transaction.Transaction
	for _, row := range s.rows {
		if row.Status == transaction.StatusPending && row.CreatedAt.Before(createdBefore) {
			r := row
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Transactions) ListApprovedBetween(
	_ context.Context,
	tenantID uuid.UUID,
	from, to time.Time,
) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*transaction.Transaction
	for _, row := range s.rows {
		if row.TenantID == tenantID && row.Status == transaction.StatusApproved &&
			!row.UpdatedAt.Before(from) && row.UpdatedAt.Before(to) {
			r := row
			out = append(out, &r)
		}
	}
	return out, nil
}

// Tokens is an in-memory repository.TokenRepository.
type Tokens struct {
	mu   sync.Mutex
	rows map[string]token.PaymentToken
}

func NewTokens() *Tokens {
	return &Tokens{rows: make(map[string]token.PaymentToken)}
}

func (s *Tokens) Create(_ context.Context, t *token.PaymentToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[t.Token]; ok {
		return domain.ErrAlreadyExists
	}
	s.rows[t.Token] = *t
	return nil
}

func (s *Tokens) Get(_ context.Context, value string) (*token.PaymentToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[value]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (s *Tokens) MarkUsed(_ context.Context, value string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[value]
	if !ok {
		return domain.ErrNotFound
	}
	if row.UsedAt == nil {
		row.UsedAt = &at
		s.rows[value] = row
	}
	return nil
}

func (s *Tokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, row := range s.rows {
		if row.ExpiresAt.Before(now) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

// Payers is an in-memory repository.PayerRepository seeded by the caller.
type Payers struct {
	mu      sync.RWMutex
	payers  map[uuid.UUID]payer.Payer
	tenants map[uuid.UUID]payer.Tenant
}

func NewPayers() *Payers {
	return &Payers{
		payers:  make(map[uuid.UUID]payer.Payer),
		tenants: make(map[uuid.UUID]payer.Tenant),
	}
}

// AddTenant seeds a tenant.
func (s *Payers) AddTenant(t payer.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// AddPayer seeds a payer.
func (s *Payers) AddPayer(p payer.Payer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payers[p.ID] = p
}

func (s *Payers) Get(_ context.Context, id uuid.UUID) (*payer.Payer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (s *Payers) ListActive(_ context.Context, tenantID uuid.UUID) ([]*payer.Payer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*payer.Payer
	for _, p := range s.payers {
		if p.TenantID == tenantID && p.Active {
			v := p
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Payers) GetTenant(_ context.Context, id uuid.UUID) (*payer.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (s *Payers) ListTenants(_ context.Context) ([]*payer.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*payer.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		v := t
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Rules is an in-memory repository.RuleRepository.
type Rules struct {
	mu   sync.Mutex
	rows map[uuid.UUID]notification.Rule
	seq  int
	ord  map[uuid.UUID]int
}

func NewRules() *Rules {
	return &Rules{rows: make(map[uuid.UUID]notification.Rule), ord: make(map[uuid.UUID]int)}
}

func (s *Rules) Create(_ context.Context, r *notification.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[r.ID]; ok {
		return domain.ErrAlreadyExists
	}
	now := time.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	s.rows[r.ID] = *r
	s.seq++
	s.ord[r.ID] = s.seq
	return nil
}

func (s *Rules) Update(_ context.Context, r *notification.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[r.ID]
	if !ok || cur.TenantID != r.TenantID {
		return domain.ErrNotFound
	}
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = time.Now()
	s.rows[r.ID] = *r
	return nil
}

func (s *Rules) Delete(_ context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[id]
	if !ok || cur.TenantID != tenantID {
		return domain.ErrNotFound
	}
	delete(s.rows, id)
	delete(s.ord, id)
	return nil
}

func (s *Rules) Get(_ context.Context, tenantID, id uuid.UUID) (*notification.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[id]
	if !ok || cur.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return &cur, nil
}

func (s *Rules) List(_ context.Context, tenantID uuid.UUID) ([]*notification.Rule, error) {
	return s.filter(tenantID, false), nil
}

func (s *Rules) ListActive(_ context.Context, tenantID uuid.UUID) ([]*notification.Rule, error) {
	return s.filter(tenantID, true), nil
}

func (s *Rules) filter(tenantID uuid.UUID, activeOnly bool) []*notification.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*notification.Rule
	for _, r := range s.rows {
		if r.TenantID != tenantID || (activeOnly && !r.Active) {
			continue
		}
		v := r
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool { return s.ord[out[i].ID] < s.ord[out[j].ID] })
	return out
}

// NotificationLogs is an in-memory repository.NotificationLogRepository.
type NotificationLogs struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]notification.Log
	index map[string]uuid.UUID
}

func NewNotificationLogs() *NotificationLogs {
	return &NotificationLogs{
		rows:  make(map[uuid.UUID]notification.Log),
		index: make(map[string]uuid.UUID),
	}
}

func dedupKey(e *notification.Log) string {
	return e.UserID.String() + "|" + e.RuleKey + "|" + string(e.Channel) + "|" + e.Day
}

func (s *NotificationLogs) Claim(_ context.Context, entry *notification.Log) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := dedupKey(entry)
	if _, ok := s.index[k]; ok {
		return false, nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Outcome == "" {
		entry.Outcome = notification.OutcomeClaimed
	}
	s.rows[entry.ID] = *entry
	s.index[k] = entry.ID
	return true, nil
}

func (s *NotificationLogs) Complete(_ context.Context, id uuid.UUID, outcome notification.Outcome, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.Outcome = outcome
	row.Error = errMsg
	s.rows[id] = row
	return nil
}

func (s *NotificationLogs) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.rows {
		if row.SentAt.Before(before) {
			delete(s.rows, id)
			delete(s.index, dedupKey(&row))
			n++
		}
	}
	return n, nil
}

// Entries returns a snapshot of the ledger.
func (s *NotificationLogs) Entries() []notification.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notification.Log, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	return out
}

var (
	_ repository.TransactionRepository     = (*Transactions)(nil)
	_ repository.TokenRepository           = (*Tokens)(nil)
	_ repository.PayerRepository           = (*Payers)(nil)
	_ repository.RuleRepository            = (*Rules)(nil)
	_ repository.NotificationLogRepository = (*NotificationLogs)(nil)
)
