package service

import (
	"context"
	"fmt"

	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/observability"
	"go.uber.org/zap"
)

// ReconciliationService verifies that wallet balances match their history.
type ReconciliationService struct {
	store QueryStore
}

func NewReconciliationService(store QueryStore) *ReconciliationService {
	return &ReconciliationService{store: store}
}

// Run compares every wallet balance with its successful collections minus
// its cash-outs and returns the wallets that disagree.
func (s *ReconciliationService) Run(ctx context.Context) ([]models.WalletDrift, error) {
	drifts, err := s.store.Queries().GetWalletDrifts(ctx)
	if err != nil {
		return nil, fmt.Errorf("run wallet drift query: %w", err)
	}

	for _, d := range drifts {
		observability.IncrementWalletImbalance(d.Currency)
		zap.L().Error("CRITICAL: wallet imbalance detected",
			zap.String("wallet_id", d.WalletID.String()),
			zap.String("tenant_id", d.TenantID.String()),
			zap.String("provider", string(d.Provider)),
			zap.Int64("balance_micros", d.BalanceMicros),
			zap.Int64("expected_micros", d.ExpectedMicros),
		)
	}
	if len(drifts) == 0 {
		zap.L().Info("wallets balanced")
	}
	return drifts, nil
}
