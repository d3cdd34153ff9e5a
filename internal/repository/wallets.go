package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/models"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, tenant_id, provider, currency, balance_micros, updated_at`

func scanWallet(row rowScanner) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.TenantID, &w.Provider, &w.Currency, &w.BalanceMicros, &w.UpdatedAt)
	return w, err
}

func collectWallets(rows pgx.Rows) ([]models.Wallet, error) {
	defer rows.Close()
	var items []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

const creditWallet = `INSERT INTO wallets (id, tenant_id, provider, currency, balance_micros)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, provider, currency)
DO UPDATE SET balance_micros = wallets.balance_micros + EXCLUDED.balance_micros, updated_at = NOW()
RETURNING ` + walletColumns

// CreditWallet adds amount to the wallet, creating it on first credit.
func (q *Queries) CreditWallet(ctx context.Context, arg CreditWalletParams) (models.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, creditWallet, uuid.New(), arg.TenantID, arg.Provider, arg.Currency, arg.Amount))
	if err != nil {
		return models.Wallet{}, fmt.Errorf("credit wallet: %w", err)
	}
	return w, nil
}

// DebitWallet returns 0 rows affected when the balance is insufficient.
func (q *Queries) DebitWallet(ctx context.Context, id uuid.UUID, amount int64) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE wallets SET balance_micros = balance_micros - $2, updated_at = NOW() WHERE id = $1 AND balance_micros >= $2`,
		id, amount,
	)
	if err != nil {
		return 0, fmt.Errorf("debit wallet: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) GetWalletForUpdate(ctx context.Context, arg WalletKey) (models.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE tenant_id = $1 AND provider = $2 AND currency = $3 FOR UPDATE`,
		arg.TenantID, arg.Provider, arg.Currency,
	))
	if err != nil {
		return models.Wallet{}, fmt.Errorf("lock wallet: %w", notFound(err))
	}
	return w, nil
}

func (q *Queries) ListWallets(ctx context.Context, tenantID *uuid.UUID) ([]models.Wallet, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE ($1::uuid IS NULL OR tenant_id = $1) ORDER BY tenant_id, provider, currency`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return collectWallets(rows)
}

const getWalletsDueForCashOut = `SELECT w.id, w.tenant_id, w.provider, w.currency, w.balance_micros, w.updated_at
FROM wallets w
JOIN tenants t ON t.id = w.tenant_id
WHERE t.is_active AND w.balance_micros > 0 AND w.balance_micros >= t.cashout_min_micros
ORDER BY w.updated_at`

func (q *Queries) GetWalletsDueForCashOut(ctx context.Context) ([]models.Wallet, error) {
	rows, err := q.db.Query(ctx, getWalletsDueForCashOut)
	if err != nil {
		return nil, fmt.Errorf("wallets due: %w", err)
	}
	return collectWallets(rows)
}

// getWalletDrifts compares each balance with successful collections minus cash-outs.
const getWalletDrifts = `SELECT w.id, w.tenant_id, w.provider, w.currency, w.balance_micros,
    COALESCE(s.total, 0) - COALESCE(c.total, 0) AS expected
FROM wallets w
LEFT JOIN (
    SELECT tenant_id, provider, currency, SUM(amount_micros)::bigint AS total
    FROM transactions WHERE status = 'Success'
    GROUP BY tenant_id, provider, currency
) s ON s.tenant_id = w.tenant_id AND s.provider = w.provider AND s.currency = w.currency
LEFT JOIN (
    SELECT tenant_id, provider, currency, SUM(amount_micros)::bigint AS total
    FROM cashout_requests
    GROUP BY tenant_id, provider, currency
) c ON c.tenant_id = w.tenant_id AND c.provider = w.provider AND c.currency = w.currency
WHERE w.balance_micros <> COALESCE(s.total, 0) - COALESCE(c.total, 0)`

func (q *Queries) GetWalletDrifts(ctx context.Context) ([]models.WalletDrift, error) {
	rows, err := q.db.Query(ctx, getWalletDrifts)
	if err != nil {
		return nil, fmt.Errorf("wallet drifts: %w", err)
	}
	defer rows.Close()

	var items []models.WalletDrift
	for rows.Next() {
		var d models.WalletDrift
		if err := rows.Scan(&d.WalletID, &d.TenantID, &d.Provider, &d.Currency, &d.BalanceMicros, &d.ExpectedMicros); err != nil {
			return nil, fmt.Errorf("scan wallet drift: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
