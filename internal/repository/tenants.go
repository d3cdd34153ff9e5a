package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/models"
)

const tenantColumns = `id, name, project_name, callback_url, callback_secret, cashout_rate, cashout_min_micros, is_active, created_at, updated_at`

func scanTenant(row rowScanner) (models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.ProjectName,
		&t.CallbackURL,
		&t.CallbackSecret,
		&t.CashOutRate,
		&t.CashOutMinMicros,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

const createTenant = `INSERT INTO tenants (id, name, project_name, callback_url, callback_secret, cashout_rate, cashout_min_micros, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at`

func (q *Queries) CreateTenant(ctx context.Context, t *models.Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := q.db.QueryRow(ctx, createTenant,
		t.ID,
		t.Name,
		t.ProjectName,
		t.CallbackURL,
		t.CallbackSecret,
		t.CashOutRate,
		t.CashOutMinMicros,
		t.IsActive,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (q *Queries) GetTenant(ctx context.Context, id uuid.UUID) (models.Tenant, error) {
	t, err := scanTenant(q.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
	if err != nil {
		return models.Tenant{}, fmt.Errorf("get tenant: %w", notFound(err))
	}
	return t, nil
}

func (q *Queries) ListTenants(ctx context.Context, limit, offset int32) ([]models.Tenant, error) {
	rows, err := q.db.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var items []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const updateTenant = `UPDATE tenants
SET name = $2, callback_url = $3, callback_secret = $4, cashout_rate = $5, cashout_min_micros = $6, is_active = $7, updated_at = NOW()
WHERE id = $1`

func (q *Queries) UpdateTenant(ctx context.Context, t *models.Tenant) (int64, error) {
	tag, err := q.db.Exec(ctx, updateTenant,
		t.ID,
		t.Name,
		t.CallbackURL,
		t.CallbackSecret,
		t.CashOutRate,
		t.CashOutMinMicros,
		t.IsActive,
	)
	if err != nil {
		return 0, fmt.Errorf("update tenant: %w", err)
	}
	return tag.RowsAffected(), nil
}
