package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/models"
)

const cashOutColumns = `id, tenant_id, provider, currency, amount_micros, rate, paid_amount_micros, status, reference, paid_by, paid_at, created_at, updated_at`

func scanCashOut(row rowScanner) (models.CashOutRequest, error) {
	var c models.CashOutRequest
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Provider,
		&c.Currency,
		&c.AmountMicros,
		&c.Rate,
		&c.PaidAmountMicros,
		&c.Status,
		&c.Reference,
		&c.PaidBy,
		&c.PaidAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

const createCashOut = `INSERT INTO cashout_requests (id, tenant_id, provider, currency, amount_micros, rate, paid_amount_micros, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at`

func (q *Queries) CreateCashOut(ctx context.Context, c *models.CashOutRequest) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := q.db.QueryRow(ctx, createCashOut,
		c.ID,
		c.TenantID,
		string(c.Provider),
		c.Currency,
		c.AmountMicros,
		c.Rate,
		c.PaidAmountMicros,
		string(c.Status),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create cashout: %w", err)
	}
	return nil
}

func (q *Queries) GetCashOut(ctx context.Context, id uuid.UUID) (models.CashOutRequest, error) {
	c, err := scanCashOut(q.db.QueryRow(ctx, `SELECT `+cashOutColumns+` FROM cashout_requests WHERE id = $1`, id))
	if err != nil {
		return models.CashOutRequest{}, fmt.Errorf("get cashout: %w", notFound(err))
	}
	return c, nil
}

func (q *Queries) GetCashOutForUpdate(ctx context.Context, id uuid.UUID) (models.CashOutRequest, error) {
	c, err := scanCashOut(q.db.QueryRow(ctx, `SELECT `+cashOutColumns+` FROM cashout_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.CashOutRequest{}, fmt.Errorf("lock cashout: %w", notFound(err))
	}
	return c, nil
}

const listCashOuts = `SELECT ` + cashOutColumns + ` FROM cashout_requests
WHERE ($1::uuid IS NULL OR tenant_id = $1)
  AND ($2::text IS NULL OR status = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

func (q *Queries) ListCashOuts(ctx context.Context, arg ListCashOutsParams) ([]models.CashOutRequest, error) {
	rows, err := q.db.Query(ctx, listCashOuts, arg.TenantID, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, fmt.Errorf("list cashouts: %w", err)
	}
	defer rows.Close()

	var items []models.CashOutRequest
	for rows.Next() {
		c, err := scanCashOut(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cashout: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (q *Queries) MarkCashOutPaid(ctx context.Context, arg MarkCashOutPaidParams) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE cashout_requests SET status = 'Paid', reference = $2, paid_by = $3, paid_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'Pending'`,
		arg.ID, arg.Reference, arg.PaidBy,
	)
	if err != nil {
		return 0, fmt.Errorf("mark cashout paid: %w", err)
	}
	return tag.RowsAffected(), nil
}
