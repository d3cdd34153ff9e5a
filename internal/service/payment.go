package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/gateway"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/observability"
	"github.com/ikwen/paygate/internal/repository"
	"go.uber.org/zap"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

// PaymentService runs the charge side of the ledger: it records charges,
// drives them through provider adapters and times out abandoned ones.
type PaymentService struct {
	store         QueryStore
	gateways      *gateway.Registry
	audit         *AuditService
	settler       *settler
	publicBaseURL string
	chargeTimeout time.Duration
	notify        func()
	now           func() time.Time
}

const defaultChargeTimeout = time.Minute

func NewPaymentService(store QueryStore, gateways *gateway.Registry, publicBaseURL string) *PaymentService {
	audit := NewAuditService()
	return &PaymentService{
		store:         store,
		gateways:      gateways,
		audit:         audit,
		settler:       &settler{store: store, audit: audit},
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		chargeTimeout: defaultChargeTimeout,
		now:           time.Now,
	}
}

// SetChargeNotifier registers fn to be called after a push charge is recorded.
func (s *PaymentService) SetChargeNotifier(fn func()) {
	s.notify = fn
}

// SetChargeTimeout bounds a single provider charge call. The call does not
// follow the caller's cancellation, only this deadline.
func (s *PaymentService) SetChargeTimeout(d time.Duration) {
	if d > 0 {
		s.chargeTimeout = d
	}
}

// InitiateChargeRequest holds the parameters of a new collection.
type InitiateChargeRequest struct {
	TenantID     uuid.UUID
	Provider     string
	AmountMicros int64
	Currency     string
	Phone        string
	ObjectRef    string
	Description  string
	CallbackURL  string
	ReturnURL    string
}

// ChargeResponse is returned to the tenant application.
type ChargeResponse struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Status        domain.TxStatus `json:"status"`
	PaymentURL    string          `json:"payment_url,omitempty"`
	Message       string          `json:"message,omitempty"`
}

func (r *InitiateChargeRequest) normalize() error {
	r.Phone = strings.ReplaceAll(strings.TrimSpace(r.Phone), " ", "")
	r.ObjectRef = strings.TrimSpace(r.ObjectRef)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = domain.DefaultCurrency
	}
	if r.AmountMicros <= 0 {
		return validationError("amount must be positive")
	}
	if !phonePattern.MatchString(r.Phone) {
		return validationError("phone must be 8 to 15 digits")
	}
	if r.ObjectRef == "" {
		return validationError("object_ref is required")
	}
	if r.CallbackURL != "" {
		if u, err := url.Parse(r.CallbackURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return validationError("callback_url must be an absolute http(s) URL")
		}
	}
	return nil
}

// InitiateCharge records a Running transaction. Push charges are handed to
// the charge worker; redirect charges call the provider synchronously to
// obtain the payment URL.
func (s *PaymentService) InitiateCharge(ctx context.Context, req InitiateChargeRequest) (*ChargeResponse, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	provider, ok := domain.ParseProvider(req.Provider)
	if !ok {
		return nil, validationError("unknown provider %q", req.Provider)
	}
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, ErrProviderUnavailable
	}

	tenant, err := s.store.Queries().GetTenant(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if !tenant.IsActive {
		return nil, ErrTenantInactive
	}

	token, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	tx := models.Transaction{
		ID:            uuid.New(),
		TenantID:      tenant.ID,
		Provider:      provider,
		AmountMicros:  req.AmountMicros,
		Currency:      req.Currency,
		Phone:         req.Phone,
		Status:        domain.TxStatusRunning,
		CallbackToken: token,
		ObjectRef:     req.ObjectRef,
		Description:   req.Description,
	}
	if req.CallbackURL != "" {
		tx.CallbackURL = &req.CallbackURL
	}
	if gw.Mode() == gateway.ModeRedirect {
		now := s.now()
		tx.DispatchedAt = &now
	}

	meta, _ := json.Marshal(map[string]any{"object_ref": tx.ObjectRef, "amount_micros": tx.AmountMicros, "provider": provider})
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		if err := q.CreateTransaction(ctx, &tx); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "transaction", tx.ID, nil, "created", "", string(domain.TxStatusRunning), meta)
	})
	if err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	zap.L().Info("charge initiated",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("tenant_id", tx.TenantID.String()),
		zap.String("provider", string(provider)),
		zap.Int64("amount_micros", tx.AmountMicros),
	)

	if gw.Mode() == gateway.ModePush {
		if s.notify != nil {
			s.notify()
		}
		return &ChargeResponse{TransactionID: tx.ID, Status: domain.TxStatusRunning}, nil
	}

	res, err := s.charge(ctx, gw, tx, req.ReturnURL)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ClaimCharges marks up to batch undispatched push charges as dispatched and
// returns them. Concurrent callers never receive the same charge.
func (s *PaymentService) ClaimCharges(ctx context.Context, batch int32) ([]models.Transaction, error) {
	items, err := s.store.Queries().ClaimUndispatchedTransactions(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("claim charges: %w", err)
	}
	return items, nil
}

// ExecuteCharge sends a claimed push charge to its provider.
func (s *PaymentService) ExecuteCharge(ctx context.Context, tx models.Transaction) error {
	if err := ctx.Err(); err != nil {
		if _, relErr := s.store.Queries().ReleaseTransactionDispatch(context.WithoutCancel(ctx), tx.ID); relErr != nil {
			zap.L().Warn("release transaction dispatch", zap.String("transaction_id", tx.ID.String()), zap.Error(relErr))
		}
		return err
	}

	gw, err := s.gateways.Get(tx.Provider)
	if err != nil {
		_, _, applyErr := s.settler.apply(ctx, settleInput{
			TransactionID: tx.ID,
			Status:        domain.TxStatusAPIError,
			Message:       "provider is not configured",
			Action:        "charge_failed",
		})
		return applyErr
	}
	_, err = s.charge(ctx, gw, tx, "")
	return err
}

// charge calls the provider and records its answer. Provider failures are
// not returned as errors: they become the transaction's status. A call
// canceled on our side leaves the transaction Running.
func (s *PaymentService) charge(ctx context.Context, gw gateway.Gateway, tx models.Transaction, returnURL string) (*ChargeResponse, error) {
	ctx, span := observability.Tracer().Start(ctx, "gateway.charge")
	defer span.End()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.chargeTimeout)
	defer cancel()
	res, err := gw.Charge(callCtx, gateway.ChargeRequest{
		TransactionID: tx.ID,
		AmountMicros:  tx.AmountMicros,
		Currency:      tx.Currency,
		Phone:         tx.Phone,
		ObjectRef:     tx.ObjectRef,
		Description:   tx.Description,
		CallbackURL:   s.callbackURL(tx),
		ReturnURL:     returnURL,
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.Canceled) {
			zap.L().Warn("provider charge canceled, left running",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("provider", string(tx.Provider)),
				zap.Error(err),
			)
			return &ChargeResponse{TransactionID: tx.ID, Status: domain.TxStatusRunning, Message: err.Error()}, nil
		}
		status := gateway.StatusOf(err)
		zap.L().Warn("provider charge failed",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("provider", string(tx.Provider)),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		settled, _, applyErr := s.settler.apply(context.WithoutCancel(ctx), settleInput{
			TransactionID: tx.ID,
			Status:        status,
			Message:       err.Error(),
			Action:        "charge_failed",
		})
		if applyErr != nil {
			return nil, applyErr
		}
		return &ChargeResponse{TransactionID: tx.ID, Status: settled.Status, Message: err.Error()}, nil
	}

	params := repository.SetTransactionProcessorParams{ID: tx.ID}
	if res.ProcessorRef != "" {
		params.ProcessorRef = &res.ProcessorRef
	}
	if res.ProcessorToken != "" {
		params.ProcessorToken = &res.ProcessorToken
	}
	if res.PaymentURL != "" {
		params.PaymentURL = &res.PaymentURL
	}
	if _, err := s.store.Queries().SetTransactionProcessor(context.WithoutCancel(ctx), params); err != nil {
		return nil, fmt.Errorf("record processor reference: %w", err)
	}

	out := &ChargeResponse{TransactionID: tx.ID, Status: domain.TxStatusRunning, PaymentURL: res.PaymentURL, Message: res.Message}
	if res.Status == domain.TxStatusSuccess || res.Status == domain.TxStatusFailure {
		settled, _, err := s.settler.apply(context.WithoutCancel(ctx), settleInput{
			TransactionID: tx.ID,
			Status:        res.Status,
			ProcessorRef:  res.ProcessorRef,
			Message:       res.Message,
			Action:        "charge_answered",
		})
		if err != nil {
			return nil, err
		}
		out.Status = settled.Status
	}
	return out, nil
}

func (s *PaymentService) callbackURL(tx models.Transaction) string {
	return fmt.Sprintf("%s/v1/callbacks/%s/%s?%s=%s", s.publicBaseURL, tx.Provider, tx.ID, CallbackTokenParam, url.QueryEscape(tx.CallbackToken))
}

// GetTransaction returns a transaction. A non-nil tenantID restricts the
// lookup to that tenant.
func (s *PaymentService) GetTransaction(ctx context.Context, id uuid.UUID, tenantID *uuid.UUID) (*models.Transaction, error) {
	tx, err := s.store.Queries().GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if tenantID != nil && tx.TenantID != *tenantID {
		return nil, ErrTransactionNotFound
	}
	return &tx, nil
}

type ListTransactionsRequest struct {
	TenantID *uuid.UUID
	Status   string
	Limit    int32
	Offset   int32
}

func (s *PaymentService) ListTransactions(ctx context.Context, req ListTransactionsRequest) ([]models.Transaction, error) {
	params := repository.ListTransactionsParams{TenantID: req.TenantID}
	params.Limit, params.Offset = normalizePage(req.Limit, req.Offset)
	if req.Status != "" {
		status, ok := domain.ParseTxStatus(req.Status)
		if !ok {
			return nil, validationError("unknown status %q", req.Status)
		}
		st := string(status)
		params.Status = &st
	}
	items, err := s.store.Queries().ListTransactions(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if items == nil {
		items = []models.Transaction{}
	}
	return items, nil
}

// SweepTimeouts settles Running transactions older than olderThan. A provider
// that can be polled gets the chance to give a definitive answer first.
func (s *PaymentService) SweepTimeouts(ctx context.Context, olderThan time.Duration, batch int32) (int, error) {
	stale, err := s.store.Queries().GetStaleRunningTransactions(ctx, s.now().Add(-olderThan), batch)
	if err != nil {
		return 0, fmt.Errorf("load stale transactions: %w", err)
	}

	swept := 0
	for _, tx := range stale {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		in := settleInput{
			TransactionID: tx.ID,
			Status:        domain.TxStatusTimeout,
			Message:       fmt.Sprintf("no provider answer within %s", olderThan),
			Action:        "timed_out",
		}
		if update := s.pollStatus(ctx, tx); update != nil {
			in.Status = update.Status
			in.ProcessorRef = update.ProcessorRef
			in.Message = update.Message
			in.Action = "status_polled"
		}
		if _, outcome, err := s.settler.apply(ctx, in); err != nil {
			zap.L().Error("sweep transaction", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
			continue
		} else if outcome == OutcomeApplied {
			swept++
		}
	}
	return swept, nil
}

func (s *PaymentService) pollStatus(ctx context.Context, tx models.Transaction) *gateway.CallbackUpdate {
	if tx.ProcessorRef == nil {
		return nil
	}
	gw, err := s.gateways.Get(tx.Provider)
	if err != nil {
		return nil
	}
	checker, ok := gw.(gateway.StatusChecker)
	if !ok {
		return nil
	}
	update, err := checker.CheckStatus(ctx, *tx.ProcessorRef)
	if err != nil {
		zap.L().Warn("provider status check failed", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
		return nil
	}
	if update.Status != domain.TxStatusSuccess && update.Status != domain.TxStatusFailure {
		return nil
	}
	return update
}
