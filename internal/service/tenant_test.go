package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTenant(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewTenantService(store)

	tenant, err := svc.CreateTenant(ctx, CreateTenantRequest{
		Name:             "Foulassi",
		ProjectName:      " Foulassi ",
		CallbackURL:      "https://foulassi.example.com/payments/notify",
		CashOutRate:      decimal.RequireFromString("2.5"),
		CashOutMinMicros: 10_000_000_000,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "foulassi", tenant.ProjectName)
	assert.True(t, tenant.IsActive)
	assert.Len(t, tenant.CallbackSecret, 64)

	_, err = svc.CreateTenant(ctx, CreateTenantRequest{Name: "Other", ProjectName: "foulassi"}, nil)
	require.ErrorIs(t, err, ErrProjectNameTaken)

	got, err := svc.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.Name, got.Name)

	_, err = svc.GetTenant(ctx, uuid.New())
	require.ErrorIs(t, err, ErrTenantNotFound)

	list, err := svc.ListTenants(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateTenantValidation(t *testing.T) {
	svc := NewTenantService(memstore.New())
	cases := map[string]CreateTenantRequest{
		"missing name":  {ProjectName: "x"},
		"rate over 100": {Name: "x", ProjectName: "x", CashOutRate: decimal.NewFromInt(101)},
		"negative rate": {Name: "x", ProjectName: "x", CashOutRate: decimal.NewFromInt(-1)},
		"negative min":  {Name: "x", ProjectName: "x", CashOutMinMicros: -1},
		"bad url":       {Name: "x", ProjectName: "x", CallbackURL: "ftp://x"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateTenant(context.Background(), req, nil)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestUpdateTenant(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := NewTenantService(store)
	tenant, err := svc.CreateTenant(ctx, CreateTenantRequest{Name: "Tchopetyamo", ProjectName: "tchopetyamo"}, nil)
	require.NoError(t, err)

	inactive := false
	rate := decimal.NewFromInt(5)
	cb := "https://tchopetyamo.example.com/cb"
	updated, err := svc.UpdateTenant(ctx, tenant.ID, UpdateTenantRequest{IsActive: &inactive, CashOutRate: &rate, CallbackURL: &cb}, nil)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.True(t, updated.CashOutRate.Equal(rate))
	assert.Equal(t, cb, updated.CallbackURL)
	assert.Equal(t, tenant.CallbackSecret, updated.CallbackSecret)

	bad := decimal.NewFromInt(200)
	_, err = svc.UpdateTenant(ctx, tenant.ID, UpdateTenantRequest{CashOutRate: &bad}, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateTenant(ctx, uuid.New(), UpdateTenantRequest{IsActive: &inactive}, nil)
	require.ErrorIs(t, err, ErrTenantNotFound)

	audit := store.AuditLog()
	require.Len(t, audit, 2)
	assert.Equal(t, "updated", audit[1].Action)
	require.NotNil(t, audit[1].NextState)
	assert.Equal(t, "inactive", *audit[1].NextState)
}
