package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/service"
	"github.com/shopspring/decimal"
)

// TenantHandler serves tenant administration (admin only).
type TenantHandler struct {
	tenants *service.TenantService
}

func NewTenantHandler(tenants *service.TenantService) *TenantHandler {
	return &TenantHandler{tenants: tenants}
}

type createTenantRequest struct {
	Name             string          `json:"name"`
	ProjectName      string          `json:"project_name"`
	CallbackURL      string          `json:"callback_url"`
	CashOutRate      decimal.Decimal `json:"cashout_rate"`
	CashOutMinMicros int64           `json:"cashout_min_micros"`
}

// createTenantResponse is the only response that carries the callback secret.
type createTenantResponse struct {
	models.Tenant
	CallbackSecret string `json:"callback_secret"`
}

type updateTenantRequest struct {
	Name             *string          `json:"name"`
	CallbackURL      *string          `json:"callback_url"`
	CashOutRate      *decimal.Decimal `json:"cashout_rate"`
	CashOutMinMicros *int64           `json:"cashout_min_micros"`
	IsActive         *bool            `json:"is_active"`
}

// CreateTenant handles POST /v1/tenants.
func (h *TenantHandler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req createTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.tenants.CreateTenant(r.Context(), service.CreateTenantRequest{
		Name:             req.Name,
		ProjectName:      req.ProjectName,
		CallbackURL:      req.CallbackURL,
		CashOutRate:      req.CashOutRate,
		CashOutMinMicros: req.CashOutMinMicros,
	}, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "tenant/create")
		return
	}
	RespondJSON(w, http.StatusCreated, createTenantResponse{Tenant: *t, CallbackSecret: t.CallbackSecret})
}

// ListTenants handles GET /v1/tenants.
func (h *TenantHandler) ListTenants(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}
	items, err := h.tenants.ListTenants(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "tenant/list")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}

// GetTenant handles GET /v1/tenants/{id}.
func (h *TenantHandler) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, chi.URLParam(r, "id"), "tenant")
	if !ok {
		return
	}
	t, err := h.tenants.GetTenant(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "tenant/read")
		return
	}
	RespondJSON(w, http.StatusOK, t)
}

// UpdateTenant handles PATCH /v1/tenants/{id}.
func (h *TenantHandler) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := parseIDParam(w, r, chi.URLParam(r, "id"), "tenant")
	if !ok {
		return
	}
	var req updateTenantRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.tenants.UpdateTenant(r.Context(), id, service.UpdateTenantRequest{
		Name:             req.Name,
		CallbackURL:      req.CallbackURL,
		CashOutRate:      req.CashOutRate,
		CashOutMinMicros: req.CashOutMinMicros,
		IsActive:         req.IsActive,
	}, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "tenant/update")
		return
	}
	RespondJSON(w, http.StatusOK, t)
}
