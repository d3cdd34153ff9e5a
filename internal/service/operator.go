package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// OperatorService manages the people allowed to use the admin API.
type OperatorService struct {
	store QueryStore
	cost  int
}

func NewOperatorService(store QueryStore) *OperatorService {
	return &OperatorService{store: store, cost: bcrypt.DefaultCost}
}

type CreateOperatorRequest struct {
	Email    string
	Password string
	Role     string
	TenantID *uuid.UUID
}

func (s *OperatorService) CreateOperator(ctx context.Context, req CreateOperatorRequest) (*models.Operator, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, validationError("email is invalid")
	}
	if len(req.Password) < minPasswordLength {
		return nil, validationError("password must be at least %d characters", minPasswordLength)
	}
	switch req.Role {
	case domain.RoleAdmin:
		if req.TenantID != nil {
			return nil, validationError("admin operators cannot belong to a tenant")
		}
	case domain.RoleIAO:
		if req.TenantID == nil {
			return nil, validationError("iao operators require tenant_id")
		}
	default:
		return nil, validationError("role must be %q or %q", domain.RoleAdmin, domain.RoleIAO)
	}

	if req.TenantID != nil {
		if _, err := s.store.Queries().GetTenant(ctx, *req.TenantID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrTenantNotFound
			}
			return nil, fmt.Errorf("get tenant: %w", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	op := models.Operator{
		ID:           uuid.New(),
		TenantID:     req.TenantID,
		Email:        email,
		PasswordHash: string(hash),
		Role:         req.Role,
	}
	if err := s.store.Queries().CreateOperator(ctx, &op); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create operator: %w", err)
	}
	return &op, nil
}

// Authenticate checks an email and password pair.
func (s *OperatorService) Authenticate(ctx context.Context, email, password string) (*models.Operator, error) {
	op, err := s.store.Queries().GetOperatorByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("get operator: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	return &op, nil
}

// EnsureBootstrapAdmin creates the first admin when no operator owns email.
func (s *OperatorService) EnsureBootstrapAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	_, err := s.store.Queries().GetOperatorByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("look up bootstrap admin: %w", err)
	}
	op, err := s.CreateOperator(ctx, CreateOperatorRequest{Email: email, Password: password, Role: domain.RoleAdmin})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil
		}
		return err
	}
	zap.L().Info("bootstrap admin created", zap.String("operator_id", op.ID.String()), zap.String("email", op.Email))
	return nil
}
