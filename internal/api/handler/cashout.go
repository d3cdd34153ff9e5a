package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ikwen/paygate/internal/service"
)

// CashOutHandler serves wallets and cash-out requests.
type CashOutHandler struct {
	cashouts *service.CashOutService
}

func NewCashOutHandler(cashouts *service.CashOutService) *CashOutHandler {
	return &CashOutHandler{cashouts: cashouts}
}

// ListWallets handles GET /v1/wallets.
func (h *CashOutHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantScope(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-tenant-id", "Invalid tenant scope")
		return
	}
	wallets, err := h.cashouts.ListWallets(r.Context(), tenantID)
	if err != nil {
		respondServiceError(w, r, err, "wallet/list")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": wallets,
		"count": len(wallets),
	})
}

type createCashOutRequest struct {
	Provider string `json:"provider"`
	Currency string `json:"currency"`
}

// CreateCashOut handles POST /v1/cashouts: an on-demand cash-out of one wallet.
func (h *CashOutHandler) CreateCashOut(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	tenantID, ok := requestTenant(r)
	if !ok {
		RespondError(w, r, http.StatusForbidden, "auth/tenant-required", "token is not bound to a tenant")
		return
	}

	var req createCashOutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-provider", "provider is required")
		return
	}

	c, err := h.cashouts.RequestCashOut(r.Context(), tenantID, req.Provider, req.Currency, &actorID)
	if err != nil {
		respondServiceError(w, r, err, "cashout/create")
		return
	}
	RespondJSON(w, http.StatusCreated, c)
}

// ListCashOuts handles GET /v1/cashouts.
func (h *CashOutHandler) ListCashOuts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantScope(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-tenant-id", "Invalid tenant scope")
		return
	}
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}

	items, err := h.cashouts.ListCashOuts(r.Context(), tenantID, strings.TrimSpace(r.URL.Query().Get("status")), limit, offset)
	if err != nil {
		respondServiceError(w, r, err, "cashout/list")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}

// GetCashOut handles GET /v1/cashouts/{id}.
func (h *CashOutHandler) GetCashOut(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, chi.URLParam(r, "id"), "cashout")
	if !ok {
		return
	}
	tenantID, ok := tenantScope(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-tenant-id", "Invalid tenant scope")
		return
	}

	c, err := h.cashouts.GetCashOut(r.Context(), id, tenantID)
	if err != nil {
		respondServiceError(w, r, err, "cashout/read")
		return
	}
	RespondJSON(w, http.StatusOK, c)
}

type markPaidRequest struct {
	Reference string `json:"reference"`
}

// MarkPaid handles POST /v1/cashouts/{id}/pay (admin only).
func (h *CashOutHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := parseIDParam(w, r, chi.URLParam(r, "id"), "cashout")
	if !ok {
		return
	}

	var req markPaidRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.cashouts.MarkPaid(r.Context(), id, req.Reference, actorID)
	if err != nil {
		respondServiceError(w, r, err, "cashout/pay")
		return
	}
	RespondJSON(w, http.StatusOK, c)
}
