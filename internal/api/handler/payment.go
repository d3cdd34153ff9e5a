package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/service"
	"github.com/shopspring/decimal"
)

// PaymentHandler serves charges and the transaction ledger.
type PaymentHandler struct {
	payments  *service.PaymentService
	callbacks *service.CallbackService
}

func NewPaymentHandler(payments *service.PaymentService, callbacks *service.CallbackService) *PaymentHandler {
	return &PaymentHandler{payments: payments, callbacks: callbacks}
}

// CreateChargeRequest is the body of POST /v1/charges. Amount is in currency
// units; AmountMicros takes precedence when both are set.
type CreateChargeRequest struct {
	Provider     string          `json:"provider"`
	Amount       decimal.Decimal `json:"amount"`
	AmountMicros int64           `json:"amount_micros"`
	Currency     string          `json:"currency"`
	Phone        string          `json:"phone"`
	ObjectRef    string          `json:"object_ref"`
	Description  string          `json:"description"`
	CallbackURL  string          `json:"callback_url"`
	ReturnURL    string          `json:"return_url"`
}

// CreateCharge handles POST /v1/charges.
func (h *PaymentHandler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requestTenant(r)
	if !ok {
		RespondError(w, r, http.StatusForbidden, "auth/tenant-required", "token is not bound to a tenant")
		return
	}

	var req CreateChargeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount := req.AmountMicros
	if amount == 0 {
		amount = domain.FromDecimal(req.Amount)
	}

	resp, err := h.payments.InitiateCharge(r.Context(), service.InitiateChargeRequest{
		TenantID:     tenantID,
		Provider:     strings.TrimSpace(req.Provider),
		AmountMicros: amount,
		Currency:     req.Currency,
		Phone:        req.Phone,
		ObjectRef:    req.ObjectRef,
		Description:  req.Description,
		CallbackURL:  req.CallbackURL,
		ReturnURL:    req.ReturnURL,
	})
	if err != nil {
		respondServiceError(w, r, err, "charge/create")
		return
	}

	RespondJSON(w, http.StatusAccepted, resp)
}

// ListTransactions handles GET /v1/transactions.
func (h *PaymentHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantScope(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-tenant-id", "Invalid tenant scope")
		return
	}
	limit, offset, ok := parsePage(w, r)
	if !ok {
		return
	}

	txs, err := h.payments.ListTransactions(r.Context(), service.ListTransactionsRequest{
		TenantID: tenantID,
		Status:   strings.TrimSpace(r.URL.Query().Get("status")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondServiceError(w, r, err, "transaction/list")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  txs,
		"limit":  limit,
		"offset": offset,
		"count":  len(txs),
	})
}

// GetTransaction handles GET /v1/transactions/{id}.
func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, chi.URLParam(r, "id"), "transaction")
	if !ok {
		return
	}
	tenantID, ok := tenantScope(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-tenant-id", "Invalid tenant scope")
		return
	}

	tx, err := h.payments.GetTransaction(r.Context(), id, tenantID)
	if err != nil {
		respondServiceError(w, r, err, "transaction/read")
		return
	}
	RespondJSON(w, http.StatusOK, tx)
}

// ListCallbacks handles GET /v1/transactions/{id}/callbacks (admin only). It
// returns the archived provider callbacks and tenant deliveries.
func (h *PaymentHandler) ListCallbacks(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, chi.URLParam(r, "id"), "transaction")
	if !ok {
		return
	}
	limit, _, ok := parsePage(w, r)
	if !ok {
		return
	}

	entries, err := h.callbacks.ListArchive(r.Context(), id, int64(limit))
	if err != nil {
		respondServiceError(w, r, err, "transaction/callbacks")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"count": len(entries),
	})
}
