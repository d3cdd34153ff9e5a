package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/models"
)

func (q *Queries) CreateOperator(ctx context.Context, op *models.Operator) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	err := q.db.QueryRow(ctx,
		`INSERT INTO operators (id, tenant_id, email, password_hash, role) VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		op.ID, op.TenantID, op.Email, op.PasswordHash, op.Role,
	).Scan(&op.CreatedAt)
	if err != nil {
		return fmt.Errorf("create operator: %w", err)
	}
	return nil
}

func (q *Queries) GetOperatorByEmail(ctx context.Context, email string) (models.Operator, error) {
	var op models.Operator
	err := q.db.QueryRow(ctx,
		`SELECT id, tenant_id, email, password_hash, role, created_at FROM operators WHERE email = $1`,
		email,
	).Scan(&op.ID, &op.TenantID, &op.Email, &op.PasswordHash, &op.Role, &op.CreatedAt)
	if err != nil {
		return models.Operator{}, fmt.Errorf("get operator: %w", notFound(err))
	}
	return op, nil
}
