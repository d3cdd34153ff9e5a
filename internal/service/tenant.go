package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// TenantService manages the deployed customer instances served by the gateway.
type TenantService struct {
	store QueryStore
	audit *AuditService
}

func NewTenantService(store QueryStore) *TenantService {
	return &TenantService{store: store, audit: NewAuditService()}
}

type CreateTenantRequest struct {
	Name             string
	ProjectName      string
	CallbackURL      string
	CashOutRate      decimal.Decimal
	CashOutMinMicros int64
}

// UpdateTenantRequest changes only the fields that are set.
type UpdateTenantRequest struct {
	Name             *string
	CallbackURL      *string
	CashOutRate      *decimal.Decimal
	CashOutMinMicros *int64
	IsActive         *bool
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return validationError("cashout_rate must be between 0 and 100")
	}
	return nil
}

func validateCallbackURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validationError("callback_url must be an absolute http(s) URL")
	}
	return nil
}

func (s *TenantService) CreateTenant(ctx context.Context, req CreateTenantRequest, actorID *uuid.UUID) (*models.Tenant, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.ProjectName = strings.ToLower(strings.TrimSpace(req.ProjectName))
	req.CallbackURL = strings.TrimSpace(req.CallbackURL)
	if req.Name == "" || req.ProjectName == "" {
		return nil, validationError("name and project_name are required")
	}
	if err := validateRate(req.CashOutRate); err != nil {
		return nil, err
	}
	if req.CashOutMinMicros < 0 {
		return nil, validationError("cashout_min_micros must not be negative")
	}
	if err := validateCallbackURL(req.CallbackURL); err != nil {
		return nil, err
	}

	secret, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	tenant := models.Tenant{
		ID:               uuid.New(),
		Name:             req.Name,
		ProjectName:      req.ProjectName,
		CallbackURL:      req.CallbackURL,
		CallbackSecret:   secret,
		CashOutRate:      req.CashOutRate,
		CashOutMinMicros: req.CashOutMinMicros,
		IsActive:         true,
	}
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		if err := q.CreateTenant(ctx, &tenant); err != nil {
			if isUniqueViolation(err) {
				return ErrProjectNameTaken
			}
			return fmt.Errorf("create tenant: %w", err)
		}
		return s.audit.Write(ctx, q, "tenant", tenant.ID, actorID, "created", "", "active", nil)
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("tenant created", zap.String("tenant_id", tenant.ID.String()), zap.String("project_name", tenant.ProjectName))
	return &tenant, nil
}

func (s *TenantService) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, err := s.store.Queries().GetTenant(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return &t, nil
}

func (s *TenantService) ListTenants(ctx context.Context, limit, offset int32) ([]models.Tenant, error) {
	limit, offset = normalizePage(limit, offset)
	items, err := s.store.Queries().ListTenants(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	if items == nil {
		items = []models.Tenant{}
	}
	return items, nil
}

func (s *TenantService) UpdateTenant(ctx context.Context, id uuid.UUID, req UpdateTenantRequest, actorID *uuid.UUID) (*models.Tenant, error) {
	var out models.Tenant
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		t, err := q.GetTenant(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTenantNotFound
			}
			return fmt.Errorf("get tenant: %w", err)
		}
		prev := tenantState(t)

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return validationError("name must not be empty")
			}
			t.Name = name
		}
		if req.CallbackURL != nil {
			cb := strings.TrimSpace(*req.CallbackURL)
			if err := validateCallbackURL(cb); err != nil {
				return err
			}
			t.CallbackURL = cb
		}
		if req.CashOutRate != nil {
			if err := validateRate(*req.CashOutRate); err != nil {
				return err
			}
			t.CashOutRate = *req.CashOutRate
		}
		if req.CashOutMinMicros != nil {
			if *req.CashOutMinMicros < 0 {
				return validationError("cashout_min_micros must not be negative")
			}
			t.CashOutMinMicros = *req.CashOutMinMicros
		}
		if req.IsActive != nil {
			t.IsActive = *req.IsActive
		}

		rows, err := q.UpdateTenant(ctx, &t)
		if err != nil {
			return fmt.Errorf("update tenant: %w", err)
		}
		if err := requireExactlyOne(rows, "update tenant"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, q, "tenant", id, actorID, "updated", prev, tenantState(t), nil); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func tenantState(t models.Tenant) string {
	if t.IsActive {
		return "active"
	}
	return "inactive"
}
