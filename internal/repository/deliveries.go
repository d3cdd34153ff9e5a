package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/models"
	"github.com/jackc/pgx/v5"
)

const deliveryColumns = `id, transaction_id, tenant_id, url, payload, status, attempts, last_error, next_attempt_at, created_at, updated_at`

func scanDelivery(row rowScanner) (models.CallbackDelivery, error) {
	var d models.CallbackDelivery
	err := row.Scan(
		&d.ID,
		&d.TransactionID,
		&d.TenantID,
		&d.URL,
		&d.Payload,
		&d.Status,
		&d.Attempts,
		&d.LastError,
		&d.NextAttemptAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	return d, err
}

func collectDeliveries(rows pgx.Rows) ([]models.CallbackDelivery, error) {
	defer rows.Close()
	var items []models.CallbackDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// CreateDelivery reports false when the transaction already has an outbox row.
func (q *Queries) CreateDelivery(ctx context.Context, d *models.CallbackDelivery) (bool, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	tag, err := q.db.Exec(ctx,
		`INSERT INTO callback_deliveries (id, transaction_id, tenant_id, url, payload, status)
VALUES ($1, $2, $3, $4, $5, 'PENDING')
ON CONFLICT (transaction_id) DO NOTHING`,
		d.ID, d.TransactionID, d.TenantID, d.URL, d.Payload,
	)
	if err != nil {
		return false, fmt.Errorf("create delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) GetDelivery(ctx context.Context, id uuid.UUID) (models.CallbackDelivery, error) {
	d, err := scanDelivery(q.db.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM callback_deliveries WHERE id = $1`, id))
	if err != nil {
		return models.CallbackDelivery{}, fmt.Errorf("get delivery: %w", notFound(err))
	}
	return d, nil
}

const claimDueDeliveries = `UPDATE callback_deliveries SET status = 'DELIVERING', updated_at = NOW()
WHERE id IN (
    SELECT id FROM callback_deliveries
    WHERE status = 'PENDING' AND next_attempt_at <= NOW()
    ORDER BY next_attempt_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + deliveryColumns

func (q *Queries) ClaimDueDeliveries(ctx context.Context, limit int32) ([]models.CallbackDelivery, error) {
	rows, err := q.db.Query(ctx, claimDueDeliveries, limit)
	if err != nil {
		return nil, fmt.Errorf("claim deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

func (q *Queries) RequeueStaleDeliveries(ctx context.Context, before time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE callback_deliveries SET status = 'PENDING', updated_at = NOW() WHERE status = 'DELIVERING' AND updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkDeliveryDelivered and RescheduleDelivery only touch a delivery this
// worker still holds. Zero rows means it was requeued in the meantime.
func (q *Queries) MarkDeliveryDelivered(ctx context.Context, id uuid.UUID, attempts int32) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE callback_deliveries SET status = 'DELIVERED', attempts = $2, last_error = NULL, updated_at = NOW() WHERE id = $1 AND status = 'DELIVERING'`,
		id, attempts,
	)
	if err != nil {
		return 0, fmt.Errorf("mark delivery delivered: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) RescheduleDelivery(ctx context.Context, arg RescheduleDeliveryParams) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE callback_deliveries SET status = $2, attempts = $3, last_error = $4, next_attempt_at = $5, updated_at = NOW() WHERE id = $1 AND status = 'DELIVERING'`,
		arg.ID, arg.Status, arg.Attempts, arg.LastError, arg.NextAttemptAt,
	)
	if err != nil {
		return 0, fmt.Errorf("reschedule delivery: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListDeliveriesByStatus(ctx context.Context, status string, limit, offset int32) ([]models.CallbackDelivery, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+deliveryColumns+` FROM callback_deliveries WHERE status = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

// RetryDelivery requeues a FAILED delivery with a fresh attempt budget.
func (q *Queries) RetryDelivery(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE callback_deliveries SET status = 'PENDING', attempts = 0, next_attempt_at = NOW(), updated_at = NOW() WHERE id = $1 AND status = 'FAILED'`,
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("retry delivery: %w", err)
	}
	return tag.RowsAffected(), nil
}
