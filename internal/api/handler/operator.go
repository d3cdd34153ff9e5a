package handler

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/service"
)

type OperatorHandler struct {
	operators *service.OperatorService
}

func NewOperatorHandler(operators *service.OperatorService) *OperatorHandler {
	return &OperatorHandler{operators: operators}
}

type createOperatorRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// CreateOperator handles POST /v1/operators (admin only).
func (h *OperatorHandler) CreateOperator(w http.ResponseWriter, r *http.Request) {
	var req createOperatorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var tenantID *uuid.UUID
	if raw := strings.TrimSpace(req.TenantID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-tenant-id", "Invalid tenant_id")
			return
		}
		tenantID = &id
	}

	op, err := h.operators.CreateOperator(r.Context(), service.CreateOperatorRequest{
		Email:    req.Email,
		Password: req.Password,
		Role:     strings.ToLower(strings.TrimSpace(req.Role)),
		TenantID: tenantID,
	})
	if err != nil {
		respondServiceError(w, r, err, "operator/create")
		return
	}
	RespondJSON(w, http.StatusCreated, op)
}
