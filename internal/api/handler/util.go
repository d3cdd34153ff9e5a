package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/api/middleware"
	"github.com/ikwen/paygate/internal/api/problem"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/service"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}

	actorID, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false, errors.New("invalid user_id in auth context")
	}

	return actorID, middleware.UserRoleFromContext(r.Context()) == domain.RoleAdmin, nil
}

// tenantScope resolves the tenant a read is restricted to. Operators bound to
// a tenant always get their own; admins may narrow with ?tenant_id=.
func tenantScope(r *http.Request) (*uuid.UUID, bool) {
	if raw := middleware.TenantIDFromContext(r.Context()); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, false
		}
		return &id, true
	}
	if middleware.UserRoleFromContext(r.Context()) != domain.RoleAdmin {
		return nil, false
	}
	raw := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, false
	}
	return &id, true
}

// requestTenant is the tenant a tenant-only action runs as.
func requestTenant(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(middleware.TenantIDFromContext(r.Context()))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func parsePage(w http.ResponseWriter, r *http.Request) (int32, int32, bool) {
	limit := int32(50)
	offset := int32(0)
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be a positive integer")
			return 0, 0, false
		}
		limit = int32(min(parsed, 200))
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-offset", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = int32(parsed)
	}
	return limit, offset, true
}

func parseIDParam(w http.ResponseWriter, r *http.Request, raw, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+what+"-id", "Invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}

// serviceErrors maps service sentinels to HTTP problems.
var serviceErrors = []struct {
	err    error
	status int
	slug   string
}{
	{service.ErrValidation, http.StatusBadRequest, "request/validation"},
	{service.ErrTenantNotFound, http.StatusNotFound, "tenant/not-found"},
	{service.ErrTenantInactive, http.StatusForbidden, "tenant/inactive"},
	{service.ErrProjectNameTaken, http.StatusConflict, "tenant/project-name-taken"},
	{service.ErrOperatorNotFound, http.StatusNotFound, "operator/not-found"},
	{service.ErrEmailTaken, http.StatusConflict, "operator/email-taken"},
	{service.ErrInvalidCredential, http.StatusUnauthorized, "auth/invalid-credentials"},
	{service.ErrTransactionNotFound, http.StatusNotFound, "transaction/not-found"},
	{service.ErrProviderUnavailable, http.StatusUnprocessableEntity, "gateway/provider-unavailable"},
	{service.ErrInvalidTransition, http.StatusConflict, "transaction/invalid-transition"},
	{service.ErrInvalidCallbackToken, http.StatusUnauthorized, "callback/invalid-token"},
	{service.ErrInvalidCallbackSig, http.StatusUnauthorized, "callback/invalid-signature"},
	{service.ErrInvalidCallbackPayload, http.StatusBadRequest, "callback/invalid-payload"},
	{service.ErrProviderMismatch, http.StatusBadRequest, "callback/provider-mismatch"},
	{service.ErrWalletNotFound, http.StatusNotFound, "wallet/not-found"},
	{service.ErrBelowMinimum, http.StatusUnprocessableEntity, "cashout/below-minimum"},
	{service.ErrCashOutNotFound, http.StatusNotFound, "cashout/not-found"},
	{service.ErrCashOutNotPending, http.StatusConflict, "cashout/not-pending"},
	{service.ErrReferenceRequired, http.StatusBadRequest, "cashout/reference-required"},
	{service.ErrDeliveryNotFound, http.StatusNotFound, "delivery/not-found"},
	{service.ErrDeliveryNotFailed, http.StatusConflict, "delivery/not-failed"},
}

// respondServiceError writes the problem matching err. Unknown errors are
// logged and reported as 500 with the operation slug.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, operation string) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			RespondError(w, r, m.status, m.slug, err.Error())
			return
		}
	}
	if status, problemType, message, ok := mapDBError(err); ok {
		RespondError(w, r, status, problemType, message)
		return
	}
	zap.L().Error(operation+" failed", zap.Error(err), zap.String("trace_id", middleware.TraceIDFromContext(r.Context())))
	RespondError(w, r, http.StatusInternalServerError, operation+"-failed", "internal error")
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
