// Package memstore is an in-memory repository.Querier used by service, worker
// and handler tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/repository"
	"github.com/jackc/pgx/v5/pgconn"
)

type state struct {
	tenants      map[uuid.UUID]models.Tenant
	operators    map[uuid.UUID]models.Operator
	transactions map[uuid.UUID]models.Transaction
	wallets      map[uuid.UUID]models.Wallet
	cashouts     map[uuid.UUID]models.CashOutRequest
	deliveries   map[uuid.UUID]models.CallbackDelivery
	idempotency  map[string]repository.IdempotencyKey
	audit        []repository.InsertAuditLogParams
}

func newState() state {
	return state{
		tenants:      map[uuid.UUID]models.Tenant{},
		operators:    map[uuid.UUID]models.Operator{},
		transactions: map[uuid.UUID]models.Transaction{},
		wallets:      map[uuid.UUID]models.Wallet{},
		cashouts:     map[uuid.UUID]models.CashOutRequest{},
		deliveries:   map[uuid.UUID]models.CallbackDelivery{},
		idempotency:  map[string]repository.IdempotencyKey{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.operators {
		c.operators[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.cashouts {
		c.cashouts[k] = v
	}
	for k, v := range s.deliveries {
		c.deliveries[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	c.audit = append(c.audit, s.audit...)
	return c
}

// Store implements repository.Querier and the service store contract.
// RunInTx calls are serialized and roll back on error.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state

	// Now is the clock used for timestamps.
	Now func() time.Time
}

var _ repository.Querier = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), Now: time.Now}
}

func (s *Store) Queries() repository.Querier { return s }

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return ctx.Err()
}

func (s *Store) Ping(context.Context) error { return nil }

// AuditLog returns a copy of every audit row written so far.
func (s *Store) AuditLog() []repository.InsertAuditLogParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.InsertAuditLogParams(nil), s.st.audit...)
}

// SetTransactionCreatedAt backdates a transaction.
func (s *Store) SetTransactionCreatedAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.st.transactions[id]
	t.CreatedAt = at
	s.st.transactions[id] = t
}

// SetDeliveryState overwrites the scheduling fields of a delivery.
func (s *Store) SetDeliveryState(id uuid.UUID, status string, updatedAt, nextAttemptAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.st.deliveries[id]
	d.Status = status
	d.UpdatedAt = updatedAt
	d.NextAttemptAt = nextAttemptAt
	s.st.deliveries[id] = d
}

// SetWalletBalance forces a wallet balance, bypassing credit bookkeeping.
func (s *Store) SetWalletBalance(id uuid.UUID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.st.wallets[id]
	w.BalanceMicros = balance
	s.st.wallets[id] = w
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func page[T any](items []T, limit, offset int32) []T {
	if offset < 0 {
		offset = 0
	}
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *Store) CreateTenant(_ context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.tenants {
		if existing.ProjectName == t.ProjectName {
			return uniqueViolation("tenants_project_name_key")
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := s.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.st.tenants[t.ID] = *t
	return nil
}

func (s *Store) GetTenant(_ context.Context, id uuid.UUID) (models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tenants[id]
	if !ok {
		return models.Tenant{}, repository.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTenants(_ context.Context, limit, offset int32) ([]models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.Tenant
	for _, t := range s.st.tenants {
		items = append(items, t)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return page(items, limit, offset), nil
}

func (s *Store) UpdateTenant(_ context.Context, t *models.Tenant) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.st.tenants[t.ID]
	if !ok {
		return 0, nil
	}
	existing.Name = t.Name
	existing.CallbackURL = t.CallbackURL
	existing.CallbackSecret = t.CallbackSecret
	existing.CashOutRate = t.CashOutRate
	existing.CashOutMinMicros = t.CashOutMinMicros
	existing.IsActive = t.IsActive
	existing.UpdatedAt = s.Now()
	s.st.tenants[t.ID] = existing
	*t = existing
	return 1, nil
}

func (s *Store) CreateOperator(_ context.Context, op *models.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.operators {
		if existing.Email == op.Email {
			return uniqueViolation("operators_email_key")
		}
	}
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	op.CreatedAt = s.Now()
	s.st.operators[op.ID] = *op
	return nil
}

func (s *Store) GetOperatorByEmail(_ context.Context, email string) (models.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.st.operators {
		if op.Email == email {
			return op, nil
		}
	}
	return models.Operator{}, repository.ErrNotFound
}

func (s *Store) CreateTransaction(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := s.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.st.transactions[t.ID] = *t
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.transactions[id]
	if !ok {
		return models.Transaction{}, repository.ErrNotFound
	}
	return t, nil
}

func (s *Store) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return s.GetTransaction(ctx, id)
}

func (s *Store) ListTransactions(_ context.Context, arg repository.ListTransactionsParams) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.Transaction
	for _, t := range s.st.transactions {
		if arg.TenantID != nil && t.TenantID != *arg.TenantID {
			continue
		}
		if arg.Status != nil && string(t.Status) != *arg.Status {
			continue
		}
		items = append(items, t)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return page(items, arg.Limit, arg.Offset), nil
}

func (s *Store) UpdateTransactionStatus(_ context.Context, arg repository.UpdateTransactionStatusParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.transactions[arg.ID]
	if !ok {
		return 0, nil
	}
	t.Status = domain.TxStatus(arg.Status)
	if arg.Message != nil {
		t.Message = arg.Message
	}
	t.UpdatedAt = s.Now()
	s.st.transactions[arg.ID] = t
	return 1, nil
}

func (s *Store) SetTransactionProcessor(_ context.Context, arg repository.SetTransactionProcessorParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.transactions[arg.ID]
	if !ok {
		return 0, nil
	}
	if arg.ProcessorRef != nil {
		t.ProcessorRef = arg.ProcessorRef
	}
	if arg.ProcessorToken != nil {
		t.ProcessorToken = arg.ProcessorToken
	}
	if arg.PaymentURL != nil {
		t.PaymentURL = arg.PaymentURL
	}
	t.UpdatedAt = s.Now()
	s.st.transactions[arg.ID] = t
	return 1, nil
}

func (s *Store) ClaimUndispatchedTransactions(_ context.Context, limit int32) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.Transaction
	for _, t := range s.st.transactions {
		if t.Status == domain.TxStatusRunning && t.DispatchedAt == nil {
			items = append(items, t)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	items = page(items, limit, 0)
	now := s.Now()
	for i := range items {
		items[i].DispatchedAt = &now
		items[i].UpdatedAt = now
		s.st.transactions[items[i].ID] = items[i]
	}
	return items, nil
}

func (s *Store) ReleaseTransactionDispatch(_ context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.transactions[id]
	if !ok || t.Status != domain.TxStatusRunning {
		return 0, nil
	}
	t.DispatchedAt = nil
	s.st.transactions[id] = t
	return 1, nil
}

func (s *Store) GetStaleRunningTransactions(_ context.Context, before time.Time, limit int32) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.Transaction
	for _, t := range s.st.transactions {
		if t.Status == domain.TxStatusRunning && t.CreatedAt.Before(before) {
			items = append(items, t)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return page(items, limit, 0), nil
}

func (s *Store) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.audit = append(s.st.audit, arg)
	return nil
}

func (s *Store) CreditWallet(_ context.Context, arg repository.CreditWalletParams) (models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.st.wallets {
		if w.TenantID == arg.TenantID && string(w.Provider) == arg.Provider && w.Currency == arg.Currency {
			w.BalanceMicros += arg.Amount
			w.UpdatedAt = s.Now()
			s.st.wallets[id] = w
			return w, nil
		}
	}
	w := models.Wallet{
		ID:            uuid.New(),
		TenantID:      arg.TenantID,
		Provider:      domain.Provider(arg.Provider),
		Currency:      arg.Currency,
		BalanceMicros: arg.Amount,
		UpdatedAt:     s.Now(),
	}
	s.st.wallets[w.ID] = w
	return w, nil
}

func (s *Store) DebitWallet(_ context.Context, id uuid.UUID, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.st.wallets[id]
	if !ok || w.BalanceMicros < amount {
		return 0, nil
	}
	w.BalanceMicros -= amount
	w.UpdatedAt = s.Now()
	s.st.wallets[id] = w
	return 1, nil
}

func (s *Store) GetWalletForUpdate(_ context.Context, arg repository.WalletKey) (models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.st.wallets {
		if w.TenantID == arg.TenantID && string(w.Provider) == arg.Provider && w.Currency == arg.Currency {
			return w, nil
		}
	}
	return models.Wallet{}, repository.ErrNotFound
}

func (s *Store) ListWallets(_ context.Context, tenantID *uuid.UUID) ([]models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.Wallet
	for _, w := range s.st.wallets {
		if tenantID != nil && w.TenantID != *tenantID {
			continue
		}
		items = append(items, w)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Provider < items[j].Provider })
	return items, nil
}

func (s *Store) GetWalletsDueForCashOut(_ context.Context) ([]models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.Wallet
	for _, w := range s.st.wallets {
		t, ok := s.st.tenants[w.TenantID]
		if !ok || !t.IsActive {
			continue
		}
		if w.BalanceMicros > 0 && w.BalanceMicros >= t.CashOutMinMicros {
			items = append(items, w)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.Before(items[j].UpdatedAt) })
	return items, nil
}

func (s *Store) GetWalletDrifts(_ context.Context) ([]models.WalletDrift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var drifts []models.WalletDrift
	for _, w := range s.st.wallets {
		var expected int64
		for _, t := range s.st.transactions {
			if t.TenantID == w.TenantID && t.Provider == w.Provider && t.Currency == w.Currency && t.Status == domain.TxStatusSuccess {
				expected += t.AmountMicros
			}
		}
		for _, c := range s.st.cashouts {
			if c.TenantID == w.TenantID && c.Provider == w.Provider && c.Currency == w.Currency {
				expected -= c.AmountMicros
			}
		}
		if expected != w.BalanceMicros {
			drifts = append(drifts, models.WalletDrift{
				WalletID:       w.ID,
				TenantID:       w.TenantID,
				Provider:       w.Provider,
				Currency:       w.Currency,
				BalanceMicros:  w.BalanceMicros,
				ExpectedMicros: expected,
			})
		}
	}
	return drifts, nil
}

func (s *Store) CreateCashOut(_ context.Context, c *models.CashOutRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := s.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	s.st.cashouts[c.ID] = *c
	return nil
}

func (s *Store) GetCashOut(_ context.Context, id uuid.UUID) (models.CashOutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.cashouts[id]
	if !ok {
		return models.CashOutRequest{}, repository.ErrNotFound
	}
	return c, nil
}

func (s *Store) GetCashOutForUpdate(ctx context.Context, id uuid.UUID) (models.CashOutRequest, error) {
	return s.GetCashOut(ctx, id)
}

func (s *Store) ListCashOuts(_ context.Context, arg repository.ListCashOutsParams) ([]models.CashOutRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.CashOutRequest
	for _, c := range s.st.cashouts {
		if arg.TenantID != nil && c.TenantID != *arg.TenantID {
			continue
		}
		if arg.Status != nil && string(c.Status) != *arg.Status {
			continue
		}
		items = append(items, c)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return page(items, arg.Limit, arg.Offset), nil
}

func (s *Store) MarkCashOutPaid(_ context.Context, arg repository.MarkCashOutPaidParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.cashouts[arg.ID]
	if !ok || c.Status != domain.CashOutStatusPending {
		return 0, nil
	}
	now := s.Now()
	ref := arg.Reference
	c.Status = domain.CashOutStatusPaid
	c.Reference = &ref
	c.PaidBy = arg.PaidBy
	c.PaidAt = &now
	c.UpdatedAt = now
	s.st.cashouts[arg.ID] = c
	return 1, nil
}

func (s *Store) CreateDelivery(_ context.Context, d *models.CallbackDelivery) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.deliveries {
		if existing.TransactionID == d.TransactionID {
			return false, nil
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := s.Now()
	d.Status = domain.DeliveryStatusPending
	d.NextAttemptAt, d.CreatedAt, d.UpdatedAt = now, now, now
	s.st.deliveries[d.ID] = *d
	return true, nil
}

func (s *Store) GetDelivery(_ context.Context, id uuid.UUID) (models.CallbackDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.deliveries[id]
	if !ok {
		return models.CallbackDelivery{}, repository.ErrNotFound
	}
	return d, nil
}

func (s *Store) ClaimDueDeliveries(_ context.Context, limit int32) ([]models.CallbackDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var items []models.CallbackDelivery
	for _, d := range s.st.deliveries {
		if d.Status == domain.DeliveryStatusPending && !d.NextAttemptAt.After(now) {
			items = append(items, d)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].NextAttemptAt.Before(items[j].NextAttemptAt) })
	items = page(items, limit, 0)
	for i := range items {
		items[i].Status = domain.DeliveryStatusDelivering
		items[i].UpdatedAt = now
		s.st.deliveries[items[i].ID] = items[i]
	}
	return items, nil
}

func (s *Store) RequeueStaleDeliveries(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.st.deliveries {
		if d.Status == domain.DeliveryStatusDelivering && d.UpdatedAt.Before(before) {
			d.Status = domain.DeliveryStatusPending
			d.UpdatedAt = s.Now()
			s.st.deliveries[id] = d
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkDeliveryDelivered(_ context.Context, id uuid.UUID, attempts int32) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.deliveries[id]
	if !ok || d.Status != domain.DeliveryStatusDelivering {
		return 0, nil
	}
	d.Status = domain.DeliveryStatusDelivered
	d.Attempts = attempts
	d.LastError = nil
	d.UpdatedAt = s.Now()
	s.st.deliveries[id] = d
	return 1, nil
}

func (s *Store) RescheduleDelivery(_ context.Context, arg repository.RescheduleDeliveryParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.deliveries[arg.ID]
	if !ok || d.Status != domain.DeliveryStatusDelivering {
		return 0, nil
	}
	lastErr := arg.LastError
	d.Status = arg.Status
	d.Attempts = arg.Attempts
	d.LastError = &lastErr
	d.NextAttemptAt = arg.NextAttemptAt
	d.UpdatedAt = s.Now()
	s.st.deliveries[arg.ID] = d
	return 1, nil
}

func (s *Store) ListDeliveriesByStatus(_ context.Context, status string, limit, offset int32) ([]models.CallbackDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []models.CallbackDelivery
	for _, d := range s.st.deliveries {
		if d.Status == status {
			items = append(items, d)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	return page(items, limit, offset), nil
}

func (s *Store) RetryDelivery(_ context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.st.deliveries[id]
	if !ok || d.Status != domain.DeliveryStatusFailed {
		return 0, nil
	}
	now := s.Now()
	d.Status = domain.DeliveryStatusPending
	d.Attempts = 0
	d.NextAttemptAt = now
	d.UpdatedAt = now
	s.st.deliveries[id] = d
	return 1, nil
}

func (s *Store) GetIdempotencyKey(_ context.Context, key string) (repository.IdempotencyKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.st.idempotency[key]
	if !ok {
		return repository.IdempotencyKey{}, repository.ErrNotFound
	}
	return k, nil
}

func (s *Store) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.idempotency[arg.IdempotencyKey]; ok {
		return false, nil
	}
	s.st.idempotency[arg.IdempotencyKey] = repository.IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		Method:         arg.Method,
		Path:           arg.Path,
		ContentType:    "application/json",
		InProgress:     true,
	}
	return true, nil
}

func (s *Store) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.st.idempotency[arg.IdempotencyKey]
	if !ok || k.RequestHash != arg.RequestHash {
		return repository.IdempotencyKey{}, repository.ErrNotFound
	}
	k.ResponseStatus = arg.ResponseStatus
	k.ResponseBody = arg.ResponseBody
	k.ContentType = arg.ContentType
	k.InProgress = false
	s.st.idempotency[arg.IdempotencyKey] = k
	return k, nil
}
