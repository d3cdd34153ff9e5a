package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/models"
)

// Querier is the data access contract consumed by services.
type Querier interface {
	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (models.Tenant, error)
	ListTenants(ctx context.Context, limit, offset int32) ([]models.Tenant, error)
	UpdateTenant(ctx context.Context, t *models.Tenant) (int64, error)

	CreateOperator(ctx context.Context, op *models.Operator) error
	GetOperatorByEmail(ctx context.Context, email string) (models.Operator, error)

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error)
	SetTransactionProcessor(ctx context.Context, arg SetTransactionProcessorParams) (int64, error)
	ClaimUndispatchedTransactions(ctx context.Context, limit int32) ([]models.Transaction, error)
	ReleaseTransactionDispatch(ctx context.Context, id uuid.UUID) (int64, error)
	GetStaleRunningTransactions(ctx context.Context, before time.Time, limit int32) ([]models.Transaction, error)

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error

	CreditWallet(ctx context.Context, arg CreditWalletParams) (models.Wallet, error)
	DebitWallet(ctx context.Context, id uuid.UUID, amount int64) (int64, error)
	GetWalletForUpdate(ctx context.Context, arg WalletKey) (models.Wallet, error)
	ListWallets(ctx context.Context, tenantID *uuid.UUID) ([]models.Wallet, error)
	GetWalletsDueForCashOut(ctx context.Context) ([]models.Wallet, error)
	GetWalletDrifts(ctx context.Context) ([]models.WalletDrift, error)

	CreateCashOut(ctx context.Context, c *models.CashOutRequest) error
	GetCashOut(ctx context.Context, id uuid.UUID) (models.CashOutRequest, error)
	GetCashOutForUpdate(ctx context.Context, id uuid.UUID) (models.CashOutRequest, error)
	ListCashOuts(ctx context.Context, arg ListCashOutsParams) ([]models.CashOutRequest, error)
	MarkCashOutPaid(ctx context.Context, arg MarkCashOutPaidParams) (int64, error)

	CreateDelivery(ctx context.Context, d *models.CallbackDelivery) (bool, error)
	GetDelivery(ctx context.Context, id uuid.UUID) (models.CallbackDelivery, error)
	ClaimDueDeliveries(ctx context.Context, limit int32) ([]models.CallbackDelivery, error)
	RequeueStaleDeliveries(ctx context.Context, before time.Time) (int64, error)
	MarkDeliveryDelivered(ctx context.Context, id uuid.UUID, attempts int32) (int64, error)
	RescheduleDelivery(ctx context.Context, arg RescheduleDeliveryParams) (int64, error)
	ListDeliveriesByStatus(ctx context.Context, status string, limit, offset int32) ([]models.CallbackDelivery, error)
	RetryDelivery(ctx context.Context, id uuid.UUID) (int64, error)

	GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (bool, error)
	FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error)
}

var _ Querier = (*Queries)(nil)

type ListTransactionsParams struct {
	TenantID *uuid.UUID
	Status   *string
	Limit    int32
	Offset   int32
}

type UpdateTransactionStatusParams struct {
	ID      uuid.UUID
	Status  string
	Message *string
}

// SetTransactionProcessorParams leaves a column untouched when its value is nil.
type SetTransactionProcessorParams struct {
	ID             uuid.UUID
	ProcessorRef   *string
	ProcessorToken *string
	PaymentURL     *string
}

type InsertAuditLogParams struct {
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	PrevState  *string
	NextState  *string
	Metadata   []byte
}

type WalletKey struct {
	TenantID uuid.UUID
	Provider string
	Currency string
}

type CreditWalletParams struct {
	WalletKey
	Amount int64
}

type ListCashOutsParams struct {
	TenantID *uuid.UUID
	Status   *string
	Limit    int32
	Offset   int32
}

type MarkCashOutPaidParams struct {
	ID        uuid.UUID
	Reference string
	PaidBy    *uuid.UUID
}

type RescheduleDeliveryParams struct {
	ID            uuid.UUID
	Status        string
	Attempts      int32
	LastError     string
	NextAttemptAt time.Time
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}
