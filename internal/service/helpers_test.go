package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/gateway"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/repository"
	"github.com/ikwen/paygate/internal/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	provider domain.Provider
	mode     gateway.Mode

	mu          sync.Mutex
	result      *gateway.ChargeResult
	chargeErr   error
	update      *gateway.CallbackUpdate
	callbackErr error
	charges     []gateway.ChargeRequest
}

func (g *fakeGateway) Provider() domain.Provider { return g.provider }
func (g *fakeGateway) Mode() gateway.Mode        { return g.mode }

func (g *fakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	if g.result != nil {
		res := *g.result
		return &res, nil
	}
	return &gateway.ChargeResult{ProcessorRef: "REF-" + req.TransactionID.String()[:8], Status: domain.TxStatusRunning}, nil
}

func (g *fakeGateway) ParseCallback(_ context.Context, req gateway.CallbackRequest) (*gateway.CallbackUpdate, error) {
	if g.callbackErr != nil {
		return nil, g.callbackErr
	}
	u := *g.update
	return &u, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

// pollingGateway also answers status checks.
type pollingGateway struct {
	*fakeGateway
	status    *gateway.CallbackUpdate
	statusErr error
}

func (g *pollingGateway) CheckStatus(_ context.Context, ref string) (*gateway.CallbackUpdate, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	u := *g.status
	u.ProcessorRef = ref
	return &u, nil
}

func seedTenant(t *testing.T, store *memstore.Store, mutate ...func(*models.Tenant)) models.Tenant {
	t.Helper()
	tenant := models.Tenant{
		ID:               uuid.New(),
		Name:             "Kakocase",
		ProjectName:      "kakocase-" + uuid.NewString()[:8],
		CallbackURL:      "https://shop.example.com/ikwen/callback",
		CallbackSecret:   "tenant-secret",
		CashOutRate:      decimal.NewFromInt(3),
		CashOutMinMicros: 5_000_000_000,
		IsActive:         true,
	}
	for _, fn := range mutate {
		fn(&tenant)
	}
	require.NoError(t, store.CreateTenant(context.Background(), &tenant))
	return tenant
}

func seedTransaction(t *testing.T, store *memstore.Store, tenant models.Tenant, provider domain.Provider, amount int64) models.Transaction {
	t.Helper()
	tx := models.Transaction{
		ID:            uuid.New(),
		TenantID:      tenant.ID,
		Provider:      provider,
		AmountMicros:  amount,
		Currency:      domain.DefaultCurrency,
		Phone:         "237675000000",
		Status:        domain.TxStatusRunning,
		CallbackToken: "cb-token-" + uuid.NewString(),
		ObjectRef:     "order-" + uuid.NewString()[:8],
	}
	require.NoError(t, store.CreateTransaction(context.Background(), &tx))
	return tx
}

func chargeRequest(tenant models.Tenant, provider domain.Provider) InitiateChargeRequest {
	return InitiateChargeRequest{
		TenantID:     tenant.ID,
		Provider:     string(provider),
		AmountMicros: 2_500_000_000,
		Phone:        "+237 675 000 000",
		ObjectRef:    "order-42",
		Description:  "Subscription",
	}
}

func setProcessorRef(id uuid.UUID, ref string) repository.SetTransactionProcessorParams {
	return repository.SetTransactionProcessorParams{ID: id, ProcessorRef: &ref}
}

func statusParams(id uuid.UUID, status domain.TxStatus) repository.UpdateTransactionStatusParams {
	return repository.UpdateTransactionStatusParams{ID: id, Status: string(status)}
}
