package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/api"
	"github.com/ikwen/paygate/internal/api/middleware"
	"github.com/ikwen/paygate/internal/config"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/gateway"
	"github.com/ikwen/paygate/internal/idempotency"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/service"
	"github.com/ikwen/paygate/internal/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "ikwen-paygate-test"
	testJWTAudience = "paygate-api-test"
)

func TestMain(m *testing.M) {
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

type testAPI struct {
	store  *memstore.Store
	router http.Handler
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memstore.New()
	registry := gateway.NewRegistry(gateway.NewSandbox(0))
	cfg := &config.Config{
		HTTPPort:           "0",
		PublicBaseURL:      "https://pay.ikwen.test",
		JWTSecret:          testJWTSecret,
		JWTIssuer:          testJWTIssuer,
		JWTAudience:        testJWTAudience,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		IdempotencyTTL:     time.Hour,
	}
	svc := api.Services{
		Payments:   service.NewPaymentService(store, registry, cfg.PublicBaseURL),
		Callbacks:  service.NewCallbackService(store, registry, nil),
		Deliveries: service.NewDeliveryService(store, nil, service.DeliveryOptions{}),
		CashOuts:   service.NewCashOutService(store, nil),
		Tenants:    service.NewTenantService(store),
		Operators:  service.NewOperatorService(store),
	}
	idemStore := idempotency.NewStore(nil, store, cfg.IdempotencyTTL)
	return &testAPI{
		store:  store,
		router: api.NewRouter(cfg, zap.NewNop(), svc, idemStore, nil).Routes(),
	}
}

func (a *testAPI) seedTenant(t *testing.T) models.Tenant {
	t.Helper()
	tenant := models.Tenant{
		ID:               uuid.New(),
		Name:             "Kakocase",
		ProjectName:      "kakocase-" + uuid.NewString()[:8],
		CallbackSecret:   "tenant-secret",
		CashOutRate:      decimal.NewFromInt(3),
		CashOutMinMicros: 1_000_000_000,
		IsActive:         true,
	}
	require.NoError(t, a.store.CreateTenant(context.Background(), &tenant))
	return tenant
}

func (a *testAPI) seedTransaction(t *testing.T, tenant models.Tenant, amount int64) models.Transaction {
	t.Helper()
	tx := models.Transaction{
		ID:            uuid.New(),
		TenantID:      tenant.ID,
		Provider:      domain.ProviderSandbox,
		AmountMicros:  amount,
		Currency:      domain.DefaultCurrency,
		Phone:         "237675000000",
		Status:        domain.TxStatusRunning,
		CallbackToken: "cb-" + uuid.NewString(),
		ObjectRef:     "order-" + uuid.NewString()[:8],
	}
	require.NoError(t, a.store.CreateTransaction(context.Background(), &tx))
	return tx
}

func iaoToken(t *testing.T, tenantID uuid.UUID) string {
	t.Helper()
	token, _, err := middleware.IssueToken(uuid.NewString(), domain.RoleIAO, tenantID.String(), time.Hour)
	require.NoError(t, err)
	return token
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, _, err := middleware.IssueToken(uuid.NewString(), domain.RoleAdmin, "", time.Hour)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func sandboxCallback(status, ref string, txID uuid.UUID) map[string]string {
	return map[string]string{"reference": txID.String(), "status": status, "ref": ref}
}

func TestHealthEndpoints(t *testing.T) {
	a := setupAPI(t)

	w := a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestOpenAPIDocumentServed(t *testing.T) {
	a := setupAPI(t)

	w := a.do(http.MethodGet, "/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/v1/charges")
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
}

func TestLogin(t *testing.T) {
	a := setupAPI(t)
	tenant := a.seedTenant(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	op := models.Operator{
		ID:           uuid.New(),
		TenantID:     &tenant.ID,
		Email:        "owner@kakocase.cm",
		PasswordHash: string(hash),
		Role:         domain.RoleIAO,
	}
	require.NoError(t, a.store.CreateOperator(context.Background(), &op))

	t.Run("valid credentials", func(t *testing.T) {
		w := a.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "Owner@Kakocase.cm", "password": "s3cret-pass"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decode[struct {
			Token    string `json:"token"`
			Role     string `json:"role"`
			TenantID string `json:"tenant_id"`
		}](t, w)
		assert.Equal(t, domain.RoleIAO, resp.Role)
		assert.Equal(t, tenant.ID.String(), resp.TenantID)

		claims := &middleware.Claims{}
		_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
			return middleware.JWTSecret(), nil
		}, jwt.WithIssuer(testJWTIssuer), jwt.WithAudience(testJWTAudience))
		require.NoError(t, err)
		assert.Equal(t, op.ID.String(), claims.UserID)
		assert.Equal(t, op.ID.String(), claims.Subject)
		assert.Equal(t, tenant.ID.String(), claims.TenantID)
	})

	t.Run("wrong password", func(t *testing.T) {
		w := a.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "owner@kakocase.cm", "password": "nope-nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	})

	t.Run("missing fields", func(t *testing.T) {
		w := a.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "owner@kakocase.cm"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := setupAPI(t)

	w := a.do(http.MethodGet, "/v1/transactions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodGet, "/v1/transactions", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleChecks(t *testing.T) {
	a := setupAPI(t)
	tenant := a.seedTenant(t)

	w := a.do(http.MethodGet, "/v1/tenants", iaoToken(t, tenant.ID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPost, "/v1/charges", adminToken(t), map[string]any{"provider": "sandbox"}, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateCharge(t *testing.T) {
	a := setupAPI(t)
	tenant := a.seedTenant(t)
	token := iaoToken(t, tenant.ID)
	body := map[string]any{
		"provider":   "sandbox",
		"amount":     "2500",
		"phone":      "+237 675 000 000",
		"object_ref": "invoice-77",
	}

	t.Run("requires idempotency key", func(t *testing.T) {
		w := a.do(http.MethodPost, "/v1/charges", token, body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	var chargeID uuid.UUID
	t.Run("records a running transaction", func(t *testing.T) {
		w := a.do(http.MethodPost, "/v1/charges", token, body, "Idempotency-Key", "charge-1")
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		resp := decode[service.ChargeResponse](t, w)
		assert.Equal(t, domain.TxStatusRunning, resp.Status)
		chargeID = resp.TransactionID

		tx, err := a.store.GetTransaction(context.Background(), chargeID)
		require.NoError(t, err)
		assert.Equal(t, int64(2_500_000_000), tx.AmountMicros)
		assert.Equal(t, "+237675000000", tx.Phone)
		assert.Equal(t, tenant.ID, tx.TenantID)
	})

	t.Run("replays the first response", func(t *testing.T) {
		w := a.do(http.MethodPost, "/v1/charges", token, body, "Idempotency-Key", "charge-1")
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "postgres", w.Header().Get("X-Idempotent-Replay"))
		assert.Equal(t, chargeID, decode[service.ChargeResponse](t, w).TransactionID)
	})

	t.Run("rejects a reused key with another body", func(t *testing.T) {
		other := map[string]any{"provider": "sandbox", "amount": "10", "phone": "237675000000", "object_ref": "x"}
		w := a.do(http.MethodPost, "/v1/charges", token, other, "Idempotency-Key", "charge-1")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("validation", func(t *testing.T) {
		bad := map[string]any{"provider": "sandbox", "amount": "0", "phone": "237675000000", "object_ref": "x"}
		w := a.do(http.MethodPost, "/v1/charges", token, bad, "Idempotency-Key", "charge-bad")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		mtn := map[string]any{"provider": "mtn-momo", "amount": "100", "phone": "237675000000", "object_ref": "x"}
		w := a.do(http.MethodPost, "/v1/charges", token, mtn, "Idempotency-Key", "charge-mtn")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestTransactionReadsAreTenantScoped(t *testing.T) {
	a := setupAPI(t)
	tenant := a.seedTenant(t)
	other := a.seedTenant(t)
	tx := a.seedTransaction(t, tenant, 1_000_000)

	w := a.do(http.MethodGet, "/v1/transactions/"+tx.ID.String(), iaoToken(t, tenant.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tx.ObjectRef, decode[models.Transaction](t, w).ObjectRef)

	w = a.do(http.MethodGet, "/v1/transactions/"+tx.ID.String(), iaoToken(t, other.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodGet, "/v1/transactions/"+tx.ID.String(), adminToken(t), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/v1/transactions?limit=10", iaoToken(t, other.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = a.do(http.MethodGet, "/v1/transactions?tenant_id="+tenant.ID.String(), adminToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = a.do(http.MethodGet, "/v1/transactions?limit=-1", adminToken(t), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProviderCallback(t *testing.T) {
	a := setupAPI(t)
	tenant := a.seedTenant(t)
	tx := a.seedTransaction(t, tenant, 2_000_000_000)
	path := "/v1/callbacks/sandbox/" + tx.ID.String() + "?cb_token=" + tx.CallbackToken

	t.Run("wrong token", func(t *testing.T) {
		w := a.do(http.MethodPost, "/v1/callbacks/sandbox/"+tx.ID.String()+"?cb_token=forged", "", sandboxCallback("success", "SBX-1", tx.ID))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		w := a.do(http.MethodPost, "/v1/callbacks/sandbox/"+uuid.NewString()+"?cb_token=x", "", sandboxCallback("success", "SBX-1", tx.ID))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("success settles and credits", func(t *testing.T) {
		w := a.do(http.MethodPost, path, "", sandboxCallback("success", "SBX-1", tx.ID))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		res := decode[service.CallbackResult](t, w)
		assert.Equal(t, service.OutcomeApplied, res.Outcome)
		assert.Equal(t, domain.TxStatusSuccess, res.Status)

		w = a.do(http.MethodGet, "/v1/wallets", iaoToken(t, tenant.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)
		wallets := decode[struct {
			Items []models.Wallet `json:"items"`
		}](t, w)
		require.Len(t, wallets.Items, 1)
		assert.Equal(t, int64(2_000_000_000), wallets.Items[0].BalanceMicros)
	})

	t.Run("duplicate is acknowledged", func(t *testing.T) {
		w := a.do(http.MethodPost, path, "", sandboxCallback("success", "SBX-1", tx.ID))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, service.OutcomeDuplicate, decode[service.CallbackResult](t, w).Outcome)
	})

	t.Run("late failure is ignored", func(t *testing.T) {
		w := a.do(http.MethodPost, path, "", sandboxCallback("failed", "SBX-1", tx.ID))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, service.OutcomeIgnored, decode[service.CallbackResult](t, w).Outcome)
	})

	t.Run("malformed payload", func(t *testing.T) {
		fresh := a.seedTransaction(t, tenant, 1_000_000)
		w := a.do(http.MethodPost, "/v1/callbacks/sandbox/"+fresh.ID.String()+"?cb_token="+fresh.CallbackToken, "", map[string]string{"status": "maybe"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCashOutFlow(t *testing.T) {
	a := setupAPI(t)
	tenant := a.seedTenant(t)
	tx := a.seedTransaction(t, tenant, 2_000_000_000)
	tenantToken := iaoToken(t, tenant.ID)
	admin := adminToken(t)

	w := a.do(http.MethodPost, "/v1/cashouts", tenantToken, map[string]string{"provider": "sandbox"}, "Idempotency-Key", "co-early")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodPost, "/v1/callbacks/sandbox/"+tx.ID.String()+"?cb_token="+tx.CallbackToken, "", sandboxCallback("success", "SBX-9", tx.ID))
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodPost, "/v1/cashouts", tenantToken, map[string]string{"provider": "sandbox"}, "Idempotency-Key", "co-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	co := decode[models.CashOutRequest](t, w)
	assert.Equal(t, domain.CashOutStatusPending, co.Status)
	assert.Equal(t, int64(2_000_000_000), co.AmountMicros)
	assert.Equal(t, int64(1_940_000_000), co.PaidAmountMicros)

	w = a.do(http.MethodGet, "/v1/cashouts/"+co.ID.String(), iaoToken(t, a.seedTenant(t).ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodPost, "/v1/cashouts/"+co.ID.String()+"/pay", tenantToken, map[string]string{"reference": "OM-123"}, "Idempotency-Key", "pay-0")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPost, "/v1/cashouts/"+co.ID.String()+"/pay", admin, map[string]string{"reference": ""}, "Idempotency-Key", "pay-empty")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPost, "/v1/cashouts/"+co.ID.String()+"/pay", admin, map[string]string{"reference": "OM-123"}, "Idempotency-Key", "pay-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.CashOutStatusPaid, decode[models.CashOutRequest](t, w).Status)

	w = a.do(http.MethodPost, "/v1/cashouts/"+co.ID.String()+"/pay", admin, map[string]string{"reference": "OM-124"}, "Idempotency-Key", "pay-2")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodGet, "/v1/cashouts?status=paid", tenantToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)
}

func TestTenantAdministration(t *testing.T) {
	a := setupAPI(t)
	admin := adminToken(t)

	w := a.do(http.MethodPost, "/v1/tenants", admin, map[string]any{
		"name":               "Foulassi",
		"project_name":       "Foulassi",
		"callback_url":       "https://foulassi.cm/ikwen/callback",
		"cashout_rate":       "5",
		"cashout_min_micros": 10_000_000_000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		ID             uuid.UUID `json:"id"`
		ProjectName    string    `json:"project_name"`
		CallbackSecret string    `json:"callback_secret"`
	}](t, w)
	assert.Equal(t, "foulassi", created.ProjectName)
	assert.Len(t, created.CallbackSecret, 64)

	w = a.do(http.MethodPost, "/v1/tenants", admin, map[string]any{"name": "Other", "project_name": "foulassi"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodGet, "/v1/tenants/"+created.ID.String(), admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), created.CallbackSecret)

	w = a.do(http.MethodPatch, "/v1/tenants/"+created.ID.String(), admin, map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.Tenant](t, w).IsActive)

	w = a.do(http.MethodPost, "/v1/charges", iaoToken(t, created.ID), map[string]any{
		"provider": "sandbox", "amount": "100", "phone": "237675000000", "object_ref": "o-1",
	}, "Idempotency-Key", "inactive")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodGet, "/v1/tenants/not-a-uuid", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOperator(t *testing.T) {
	a := setupAPI(t)
	admin := adminToken(t)
	tenant := a.seedTenant(t)

	w := a.do(http.MethodPost, "/v1/operators", admin, map[string]string{
		"email": "iao@kakocase.cm", "password": "long-enough", "role": "iao", "tenant_id": tenant.ID.String(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "password")

	w = a.do(http.MethodPost, "/v1/operators", admin, map[string]string{
		"email": "iao@kakocase.cm", "password": "long-enough", "role": "iao", "tenant_id": tenant.ID.String(),
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodPost, "/v1/operators", admin, map[string]string{
		"email": "staff@ikwen.com", "password": "long-enough", "role": "admin", "tenant_id": tenant.ID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeliveryAdministration(t *testing.T) {
	a := setupAPI(t)
	admin := adminToken(t)

	w := a.do(http.MethodGet, "/v1/deliveries/failed", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = a.do(http.MethodPost, "/v1/deliveries/"+uuid.NewString()+"/retry", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCallbackArchiveListing(t *testing.T) {
	a := setupAPI(t)
	tenant := a.seedTenant(t)
	tx := a.seedTransaction(t, tenant, 1_000_000)

	w := a.do(http.MethodGet, "/v1/transactions/"+tx.ID.String()+"/callbacks", adminToken(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = a.do(http.MethodGet, "/v1/transactions/"+tx.ID.String()+"/callbacks", iaoToken(t, tenant.ID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
