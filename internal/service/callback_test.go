package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/archive"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/gateway"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/testutil/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inbound(tx models.Transaction) InboundCallback {
	return InboundCallback{
		Provider:      string(tx.Provider),
		TransactionID: tx.ID,
		Token:         tx.CallbackToken,
		Method:        http.MethodPost,
		URL:           "/v1/callbacks/" + string(tx.Provider) + "/" + tx.ID.String(),
		Body:          []byte(`{"status":"completed"}`),
		Header:        http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestCallbackSuccessCreditsWalletAndQueuesDelivery(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	tenant := seedTenant(t, store)
	tx := seedTransaction(t, store, tenant, domain.ProviderJumboPay, 3_000_000_000)
	gw := &fakeGateway{
		provider: domain.ProviderJumboPay,
		mode:     gateway.ModePush,
		update:   &gateway.CallbackUpdate{ProcessorRef: "JP-77", Status: domain.TxStatusSuccess},
	}
	arch := &archive.Memory{}
	svc := NewCallbackService(store, gateway.NewRegistry(gw), arch)

	res, err := svc.Handle(ctx, inbound(tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, domain.TxStatusSuccess, res.Status)

	got, err := store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusSuccess, got.Status)
	require.NotNil(t, got.ProcessorRef)
	assert.Equal(t, "JP-77", *got.ProcessorRef)

	wallets, err := store.ListWallets(ctx, &tenant.ID)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, int64(3_000_000_000), wallets[0].BalanceMicros)
	assert.Equal(t, domain.ProviderJumboPay, wallets[0].Provider)

	deliveries, err := store.ListDeliveriesByStatus(ctx, domain.DeliveryStatusPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Contains(t, string(deliveries[0].Payload), `"status":"Success"`)
	assert.Contains(t, string(deliveries[0].Payload), `"processor_ref":"JP-77"`)

	entries, err := arch.ListByTransaction(ctx, tx.ID.String(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, archive.KindProviderCallback, entries[0].Kind)
	assert.Equal(t, string(OutcomeApplied), entries[0].Outcome)
}

func TestCallbackIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	tenant := seedTenant(t, store)
	tx := seedTransaction(t, store, tenant, domain.ProviderJumboPay, 1_000_000_000)
	gw := &fakeGateway{
		provider: domain.ProviderJumboPay,
		mode:     gateway.ModePush,
		update:   &gateway.CallbackUpdate{Status: domain.TxStatusSuccess},
	}
	svc := NewCallbackService(store, gateway.NewRegistry(gw), nil)

	_, err := svc.Handle(ctx, inbound(tx))
	require.NoError(t, err)
	res, err := svc.Handle(ctx, inbound(tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	wallets, err := store.ListWallets(ctx, &tenant.ID)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	assert.Equal(t, int64(1_000_000_000), wallets[0].BalanceMicros)
}

func TestCallbackAfterFailureIsIgnored(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	tenant := seedTenant(t, store)
	tx := seedTransaction(t, store, tenant, domain.ProviderJumboPay, 1_000_000_000)
	gw := &fakeGateway{provider: domain.ProviderJumboPay, mode: gateway.ModePush, update: &gateway.CallbackUpdate{Status: domain.TxStatusFailure}}
	svc := NewCallbackService(store, gateway.NewRegistry(gw), nil)

	res, err := svc.Handle(ctx, inbound(tx))
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusFailure, res.Status)

	gw.update = &gateway.CallbackUpdate{Status: domain.TxStatusSuccess}
	res, err = svc.Handle(ctx, inbound(tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, domain.TxStatusFailure, res.Status)

	wallets, err := store.ListWallets(ctx, &tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, wallets)
}

func TestLateCallbackSettlesTimedOutTransaction(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	tenant := seedTenant(t, store)
	tx := seedTransaction(t, store, tenant, domain.ProviderMTNMoMo, 1_000_000_000)
	_, err := store.UpdateTransactionStatus(ctx, statusParams(tx.ID, domain.TxStatusTimeout))
	require.NoError(t, err)

	gw := &fakeGateway{provider: domain.ProviderMTNMoMo, mode: gateway.ModePush, update: &gateway.CallbackUpdate{Status: domain.TxStatusSuccess}}
	svc := NewCallbackService(store, gateway.NewRegistry(gw), nil)

	res, err := svc.Handle(ctx, inbound(tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, domain.TxStatusSuccess, res.Status)
}

func TestCallbackRunningUpdateIsPending(t *testing.T) {
	store := memstore.New()
	tenant := seedTenant(t, store)
	tx := seedTransaction(t, store, tenant, domain.ProviderYup, 1_000_000)
	gw := &fakeGateway{provider: domain.ProviderYup, mode: gateway.ModeRedirect, update: &gateway.CallbackUpdate{Status: domain.TxStatusRunning}}
	svc := NewCallbackService(store, gateway.NewRegistry(gw), nil)

	res, err := svc.Handle(context.Background(), inbound(tx))
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, domain.TxStatusRunning, res.Status)
}

func TestCallbackRejections(t *testing.T) {
	store := memstore.New()
	tenant := seedTenant(t, store)
	tx := seedTransaction(t, store, tenant, domain.ProviderJumboPay, 1_000_000)
	jumbo := &fakeGateway{provider: domain.ProviderJumboPay, mode: gateway.ModePush, update: &gateway.CallbackUpdate{Status: domain.TxStatusSuccess}}
	mtn := &fakeGateway{provider: domain.ProviderMTNMoMo, mode: gateway.ModePush, update: &gateway.CallbackUpdate{Status: domain.TxStatusSuccess}}
	svc := NewCallbackService(store, gateway.NewRegistry(jumbo, mtn), nil)

	t.Run("bad token", func(t *testing.T) {
		in := inbound(tx)
		in.Token = "nope"
		_, err := svc.Handle(context.Background(), in)
		require.ErrorIs(t, err, ErrInvalidCallbackToken)
	})
	t.Run("unknown transaction", func(t *testing.T) {
		in := inbound(tx)
		in.TransactionID = uuid.New()
		_, err := svc.Handle(context.Background(), in)
		require.ErrorIs(t, err, ErrTransactionNotFound)
	})
	t.Run("provider mismatch", func(t *testing.T) {
		in := inbound(tx)
		in.Provider = string(domain.ProviderMTNMoMo)
		_, err := svc.Handle(context.Background(), in)
		require.ErrorIs(t, err, ErrProviderMismatch)
	})
	t.Run("unregistered provider", func(t *testing.T) {
		in := inbound(tx)
		in.Provider = string(domain.ProviderUBA)
		_, err := svc.Handle(context.Background(), in)
		require.ErrorIs(t, err, ErrProviderUnavailable)
	})
	t.Run("bad signature", func(t *testing.T) {
		jumbo.callbackErr = gateway.ErrInvalidSignature
		defer func() { jumbo.callbackErr = nil }()
		_, err := svc.Handle(context.Background(), inbound(tx))
		require.ErrorIs(t, err, ErrInvalidCallbackSig)
	})
	t.Run("malformed payload", func(t *testing.T) {
		jumbo.callbackErr = errors.Join(gateway.ErrInvalidCallback, errors.New("unexpected EOF"))
		defer func() { jumbo.callbackErr = nil }()
		_, err := svc.Handle(context.Background(), inbound(tx))
		require.ErrorIs(t, err, ErrInvalidCallbackPayload)
	})
	t.Run("echoed transaction differs", func(t *testing.T) {
		jumbo.update = &gateway.CallbackUpdate{TransactionID: uuid.New(), Status: domain.TxStatusSuccess}
		_, err := svc.Handle(context.Background(), inbound(tx))
		require.ErrorIs(t, err, ErrInvalidCallbackPayload)
	})

	got, err := store.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusRunning, got.Status)
}

func TestCallbackWithoutTenantURLSkipsDelivery(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	tenant := seedTenant(t, store, func(t *models.Tenant) { t.CallbackURL = "" })
	tx := seedTransaction(t, store, tenant, domain.ProviderJumboPay, 1_000_000)
	gw := &fakeGateway{provider: domain.ProviderJumboPay, mode: gateway.ModePush, update: &gateway.CallbackUpdate{Status: domain.TxStatusSuccess}}
	svc := NewCallbackService(store, gateway.NewRegistry(gw), nil)

	_, err := svc.Handle(ctx, inbound(tx))
	require.NoError(t, err)

	deliveries, err := store.ListDeliveriesByStatus(ctx, domain.DeliveryStatusPending, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}
