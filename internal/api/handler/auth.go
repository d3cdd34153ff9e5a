package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ikwen/paygate/internal/api/middleware"
	"github.com/ikwen/paygate/internal/service"
	"go.uber.org/zap"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	operators *service.OperatorService
}

func NewAuthHandler(operators *service.OperatorService) *AuthHandler {
	return &AuthHandler{operators: operators}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
	TenantID  string    `json:"tenant_id,omitempty"`
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-credentials", "email and password are required")
		return
	}

	op, err := h.operators.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) {
			RespondError(w, r, http.StatusUnauthorized, "auth/invalid-credentials", "Invalid email or password")
			return
		}
		respondServiceError(w, r, err, "auth/login")
		return
	}

	tenantID := ""
	if op.TenantID != nil {
		tenantID = op.TenantID.String()
	}
	token, expiresAt, err := middleware.IssueToken(op.ID.String(), op.Role, tenantID, tokenTTL)
	if err != nil {
		zap.L().Error("sign token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Role:      op.Role,
		TenantID:  tenantID,
	})
}
