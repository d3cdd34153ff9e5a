package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/shopspring/decimal"
)

// Tenant is a deployed customer instance ("service") of the platform.
type Tenant struct {
	ID               uuid.UUID       `json:"id"`
	Name             string          `json:"name"`
	ProjectName      string          `json:"project_name"`
	CallbackURL      string          `json:"callback_url,omitempty"`
	CallbackSecret   string          `json:"-"`
	CashOutRate      decimal.Decimal `json:"cashout_rate"`
	CashOutMinMicros int64           `json:"cashout_min_micros"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type Operator struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     *uuid.UUID `json:"tenant_id,omitempty"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Transaction is a single charge attempt against a provider.
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	Provider       domain.Provider `json:"provider"`
	AmountMicros   int64           `json:"amount_micros"`
	Currency       string          `json:"currency"`
	Phone          string          `json:"phone"`
	Status         domain.TxStatus `json:"status"`
	ProcessorRef   *string         `json:"processor_ref,omitempty"`
	ProcessorToken *string         `json:"-"`
	CallbackToken  string          `json:"-"`
	ObjectRef      string          `json:"object_ref"`
	Description    string          `json:"description,omitempty"`
	CallbackURL    *string         `json:"callback_url,omitempty"`
	PaymentURL     *string         `json:"payment_url,omitempty"`
	Message        *string         `json:"message,omitempty"`
	DispatchedAt   *time.Time      `json:"dispatched_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Wallet accumulates successful collections per tenant and provider until cash-out.
type Wallet struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	Provider      domain.Provider `json:"provider"`
	Currency      string          `json:"currency"`
	BalanceMicros int64           `json:"balance_micros"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type CashOutRequest struct {
	ID               uuid.UUID            `json:"id"`
	TenantID         uuid.UUID            `json:"tenant_id"`
	Provider         domain.Provider      `json:"provider"`
	Currency         string               `json:"currency"`
	AmountMicros     int64                `json:"amount_micros"`
	Rate             decimal.Decimal      `json:"rate"`
	PaidAmountMicros int64                `json:"paid_amount_micros"`
	Status           domain.CashOutStatus `json:"status"`
	Reference        *string              `json:"reference,omitempty"`
	PaidBy           *uuid.UUID           `json:"paid_by,omitempty"`
	PaidAt           *time.Time           `json:"paid_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// CallbackDelivery is an outbox row for notifying a tenant application.
type CallbackDelivery struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	URL           string    `json:"url"`
	Payload       []byte    `json:"-"`
	Status        string    `json:"status"`
	Attempts      int32     `json:"attempts"`
	LastError     *string   `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WalletDrift describes a wallet whose balance disagrees with its history.
type WalletDrift struct {
	WalletID       uuid.UUID       `json:"wallet_id"`
	TenantID       uuid.UUID       `json:"tenant_id"`
	Provider       domain.Provider `json:"provider"`
	Currency       string          `json:"currency"`
	BalanceMicros  int64           `json:"balance_micros"`
	ExpectedMicros int64           `json:"expected_micros"`
}
