package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/lock"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/observability"
	"github.com/ikwen/paygate/internal/repository"
	"go.uber.org/zap"
)

const (
	aggregateLockName = "cashout:aggregate"
	aggregateLockTTL  = 5 * time.Minute
)

// CashOutService moves wallet balances into cash-out requests that ikwen
// staff pay out by hand.
type CashOutService struct {
	store  QueryStore
	locker lock.Locker
	audit  *AuditService
}

func NewCashOutService(store QueryStore, locker lock.Locker) *CashOutService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &CashOutService{store: store, locker: locker, audit: NewAuditService()}
}

// Aggregate turns every wallet at or above its tenant's minimum into a
// Pending cash-out. It returns how many requests were created; zero with
// no error when another instance holds the aggregation lock.
func (s *CashOutService) Aggregate(ctx context.Context) (int, error) {
	release, err := s.locker.Acquire(ctx, aggregateLockName, aggregateLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			zap.L().Debug("cash-out aggregation already running elsewhere")
			return 0, nil
		}
		return 0, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			zap.L().Warn("release cash-out lock", zap.Error(err))
		}
	}()

	due, err := s.store.Queries().GetWalletsDueForCashOut(ctx)
	if err != nil {
		return 0, fmt.Errorf("load wallets due: %w", err)
	}

	created := 0
	for _, w := range due {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		_, err := s.cashOut(ctx, w.TenantID, w.Provider, w.Currency, nil)
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrBelowMinimum), errors.Is(err, ErrWalletNotFound):
		default:
			zap.L().Error("aggregate wallet",
				zap.String("wallet_id", w.ID.String()),
				zap.String("tenant_id", w.TenantID.String()),
				zap.Error(err),
			)
		}
	}
	return created, nil
}

// RequestCashOut cashes out one wallet of a tenant on demand.
func (s *CashOutService) RequestCashOut(ctx context.Context, tenantID uuid.UUID, provider, currency string, actorID *uuid.UUID) (*models.CashOutRequest, error) {
	p, ok := domain.ParseProvider(provider)
	if !ok {
		return nil, validationError("unknown provider %q", provider)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return s.cashOut(ctx, tenantID, p, currency, actorID)
}

func (s *CashOutService) cashOut(ctx context.Context, tenantID uuid.UUID, provider domain.Provider, currency string, actorID *uuid.UUID) (*models.CashOutRequest, error) {
	var req models.CashOutRequest
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		tenant, err := q.GetTenant(ctx, tenantID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTenantNotFound
			}
			return fmt.Errorf("load tenant: %w", err)
		}
		wallet, err := q.GetWalletForUpdate(ctx, repository.WalletKey{TenantID: tenantID, Provider: string(provider), Currency: currency})
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrWalletNotFound
			}
			return fmt.Errorf("lock wallet: %w", err)
		}
		if wallet.BalanceMicros <= 0 || wallet.BalanceMicros < tenant.CashOutMinMicros {
			return ErrBelowMinimum
		}

		gross := domain.NewMoney(wallet.BalanceMicros, wallet.Currency)
		req = models.CashOutRequest{
			ID:               uuid.New(),
			TenantID:         tenantID,
			Provider:         provider,
			Currency:         wallet.Currency,
			AmountMicros:     gross.Amount,
			Rate:             tenant.CashOutRate,
			PaidAmountMicros: gross.ApplyRate(tenant.CashOutRate).Amount,
			Status:           domain.CashOutStatusPending,
		}
		if err := q.CreateCashOut(ctx, &req); err != nil {
			return fmt.Errorf("create cash-out: %w", err)
		}
		rows, err := q.DebitWallet(ctx, wallet.ID, gross.Amount)
		if err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}
		if err := requireExactlyOne(rows, "debit wallet"); err != nil {
			return err
		}

		meta, _ := json.Marshal(map[string]any{
			"wallet_id":          wallet.ID,
			"amount_micros":      req.AmountMicros,
			"paid_amount_micros": req.PaidAmountMicros,
			"rate":               req.Rate.String(),
		})
		return s.audit.Write(ctx, q, "cashout_request", req.ID, actorID, "requested", "", string(domain.CashOutStatusPending), meta)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordCashOut(string(provider), string(req.Status), req.Currency, req.AmountMicros)
	zap.L().Info("cash-out requested",
		zap.String("cashout_id", req.ID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("provider", string(provider)),
		zap.Int64("amount_micros", req.AmountMicros),
		zap.Int64("paid_amount_micros", req.PaidAmountMicros),
	)
	return &req, nil
}

// MarkPaid records the manual payment of a Pending request.
func (s *CashOutService) MarkPaid(ctx context.Context, id uuid.UUID, reference string, operatorID uuid.UUID) (*models.CashOutRequest, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrReferenceRequired
	}

	var out models.CashOutRequest
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		current, err := q.GetCashOutForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrCashOutNotFound
			}
			return fmt.Errorf("lock cash-out: %w", err)
		}
		if current.Status != domain.CashOutStatusPending {
			return ErrCashOutNotPending
		}
		rows, err := q.MarkCashOutPaid(ctx, repository.MarkCashOutPaidParams{ID: id, Reference: reference, PaidBy: &operatorID})
		if err != nil {
			return fmt.Errorf("mark cash-out paid: %w", err)
		}
		if rows == 0 {
			return ErrCashOutNotPending
		}
		meta, _ := json.Marshal(map[string]string{"reference": reference})
		if err := s.audit.Write(ctx, q, "cashout_request", id, &operatorID, "paid", string(domain.CashOutStatusPending), string(domain.CashOutStatusPaid), meta); err != nil {
			return err
		}
		out, err = q.GetCashOut(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	observability.RecordCashOut(string(out.Provider), string(out.Status), out.Currency, 0)
	return &out, nil
}

func (s *CashOutService) GetCashOut(ctx context.Context, id uuid.UUID, tenantID *uuid.UUID) (*models.CashOutRequest, error) {
	c, err := s.store.Queries().GetCashOut(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCashOutNotFound
		}
		return nil, fmt.Errorf("get cash-out: %w", err)
	}
	if tenantID != nil && c.TenantID != *tenantID {
		return nil, ErrCashOutNotFound
	}
	return &c, nil
}

func (s *CashOutService) ListCashOuts(ctx context.Context, tenantID *uuid.UUID, status string, limit, offset int32) ([]models.CashOutRequest, error) {
	params := repository.ListCashOutsParams{TenantID: tenantID}
	params.Limit, params.Offset = normalizePage(limit, offset)
	if status != "" {
		var st string
		switch {
		case strings.EqualFold(status, string(domain.CashOutStatusPending)):
			st = string(domain.CashOutStatusPending)
		case strings.EqualFold(status, string(domain.CashOutStatusPaid)):
			st = string(domain.CashOutStatusPaid)
		default:
			return nil, validationError("unknown status %q", status)
		}
		params.Status = &st
	}
	items, err := s.store.Queries().ListCashOuts(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list cash-outs: %w", err)
	}
	if items == nil {
		items = []models.CashOutRequest{}
	}
	return items, nil
}

func (s *CashOutService) ListWallets(ctx context.Context, tenantID *uuid.UUID) ([]models.Wallet, error) {
	items, err := s.store.Queries().ListWallets(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	if items == nil {
		items = []models.Wallet{}
	}
	return items, nil
}
