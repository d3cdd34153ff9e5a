package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/models"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, tenant_id, provider, amount_micros, currency, phone, status, processor_ref, processor_token,
callback_token, object_ref, description, callback_url, payment_url, message, dispatched_at, created_at, updated_at`

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID,
		&t.TenantID,
		&t.Provider,
		&t.AmountMicros,
		&t.Currency,
		&t.Phone,
		&t.Status,
		&t.ProcessorRef,
		&t.ProcessorToken,
		&t.CallbackToken,
		&t.ObjectRef,
		&t.Description,
		&t.CallbackURL,
		&t.PaymentURL,
		&t.Message,
		&t.DispatchedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	var items []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const createTransaction = `INSERT INTO transactions (
    id, tenant_id, provider, amount_micros, currency, phone, status, callback_token, object_ref, description, callback_url, dispatched_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING created_at, updated_at`

func (q *Queries) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := q.db.QueryRow(ctx, createTransaction,
		t.ID,
		t.TenantID,
		string(t.Provider),
		t.AmountMicros,
		t.Currency,
		t.Phone,
		string(t.Status),
		t.CallbackToken,
		t.ObjectRef,
		t.Description,
		t.CallbackURL,
		t.DispatchedAt,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return models.Transaction{}, fmt.Errorf("get transaction: %w", notFound(err))
	}
	return t, nil
}

func (q *Queries) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	t, err := scanTransaction(q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.Transaction{}, fmt.Errorf("lock transaction: %w", notFound(err))
	}
	return t, nil
}

const listTransactions = `SELECT ` + transactionColumns + ` FROM transactions
WHERE ($1::uuid IS NULL OR tenant_id = $1)
  AND ($2::text IS NULL OR status = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, listTransactions, arg.TenantID, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE transactions SET status = $2, message = COALESCE($3, message), updated_at = NOW() WHERE id = $1`,
		arg.ID, arg.Status, arg.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("update transaction status: %w", err)
	}
	return tag.RowsAffected(), nil
}

const setTransactionProcessor = `UPDATE transactions
SET processor_ref = COALESCE($2, processor_ref),
    processor_token = COALESCE($3, processor_token),
    payment_url = COALESCE($4, payment_url),
    updated_at = NOW()
WHERE id = $1`

func (q *Queries) SetTransactionProcessor(ctx context.Context, arg SetTransactionProcessorParams) (int64, error) {
	tag, err := q.db.Exec(ctx, setTransactionProcessor, arg.ID, arg.ProcessorRef, arg.ProcessorToken, arg.PaymentURL)
	if err != nil {
		return 0, fmt.Errorf("set transaction processor: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimUndispatchedTransactions marks up to limit Running push charges as
// dispatched and returns them. Concurrent claimers never see the same row.
const claimUndispatchedTransactions = `UPDATE transactions SET dispatched_at = NOW(), updated_at = NOW()
WHERE id IN (
    SELECT id FROM transactions
    WHERE status = 'Running' AND dispatched_at IS NULL
    ORDER BY created_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + transactionColumns

func (q *Queries) ClaimUndispatchedTransactions(ctx context.Context, limit int32) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, claimUndispatchedTransactions, limit)
	if err != nil {
		return nil, fmt.Errorf("claim transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (q *Queries) ReleaseTransactionDispatch(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE transactions SET dispatched_at = NULL, updated_at = NOW() WHERE id = $1 AND status = 'Running'`, id)
	if err != nil {
		return 0, fmt.Errorf("release transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) GetStaleRunningTransactions(ctx context.Context, before time.Time, limit int32) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE status = 'Running' AND created_at < $1 ORDER BY created_at LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("stale transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (q *Queries) InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		arg.EntityType, arg.EntityID, arg.ActorID, arg.Action, arg.PrevState, arg.NextState, arg.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
