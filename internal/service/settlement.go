package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/observability"
	"github.com/ikwen/paygate/internal/repository"
	"go.uber.org/zap"
)

// Outcome describes what applying a provider result did to a transaction.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomePending   Outcome = "pending"
)

// DeliveryPayload is the JSON body posted to a tenant application.
type DeliveryPayload struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	ObjectRef     string          `json:"object_ref"`
	Status        domain.TxStatus `json:"status"`
	Amount        string          `json:"amount"`
	AmountMicros  int64           `json:"amount_micros"`
	Currency      string          `json:"currency"`
	Provider      domain.Provider `json:"provider"`
	ProcessorRef  string          `json:"processor_ref,omitempty"`
	Phone         string          `json:"phone"`
	Message       string          `json:"message,omitempty"`
}

// settler applies final provider outcomes. A Success credits the tenant
// wallet and queues the tenant notification in the same database transaction.
type settler struct {
	store QueryStore
	audit *AuditService
}

type settleInput struct {
	TransactionID uuid.UUID
	Status        domain.TxStatus
	ProcessorRef  string
	Message       string
	Action        string
	Metadata      []byte
}

func (st *settler) apply(ctx context.Context, in settleInput) (models.Transaction, Outcome, error) {
	var (
		result  models.Transaction
		outcome Outcome
	)
	err := st.store.RunInTx(ctx, func(q repository.Querier) error {
		current, err := q.GetTransactionForUpdate(ctx, in.TransactionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTransactionNotFound
			}
			return fmt.Errorf("lock transaction: %w", err)
		}
		if current.Status == in.Status {
			result, outcome = current, OutcomeDuplicate
			return nil
		}
		if !canTransition(current.Status, in.Status) {
			result, outcome = current, OutcomeIgnored
			return nil
		}

		if in.ProcessorRef != "" && current.ProcessorRef == nil {
			ref := in.ProcessorRef
			if _, err := q.SetTransactionProcessor(ctx, repository.SetTransactionProcessorParams{ID: current.ID, ProcessorRef: &ref}); err != nil {
				return err
			}
			current.ProcessorRef = &ref
		}

		tx, _, err := transitionTransaction(ctx, q, st.audit, in.TransactionID, in.Status, in.Message, nil, in.Action, in.Metadata)
		if err != nil {
			return err
		}
		tx.ProcessorRef = current.ProcessorRef

		if in.Status == domain.TxStatusSuccess {
			if err := st.creditAndNotify(ctx, q, tx); err != nil {
				return err
			}
		}
		result, outcome = tx, OutcomeApplied
		return nil
	})
	if err != nil {
		return models.Transaction{}, "", err
	}

	if outcome == OutcomeApplied {
		observability.IncrementTransition(string(result.Provider), string(result.Status))
		zap.L().Info("transaction settled",
			zap.String("transaction_id", result.ID.String()),
			zap.String("tenant_id", result.TenantID.String()),
			zap.String("provider", string(result.Provider)),
			zap.String("status", string(result.Status)),
		)
	}
	return result, outcome, nil
}

func (st *settler) creditAndNotify(ctx context.Context, q repository.Querier, tx models.Transaction) error {
	wallet, err := q.CreditWallet(ctx, repository.CreditWalletParams{
		WalletKey: repository.WalletKey{TenantID: tx.TenantID, Provider: string(tx.Provider), Currency: tx.Currency},
		Amount:    tx.AmountMicros,
	})
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	meta, _ := json.Marshal(map[string]any{"transaction_id": tx.ID, "amount_micros": tx.AmountMicros})
	if err := st.audit.Write(ctx, q, "wallet", wallet.ID, nil, "credited", "", "", meta); err != nil {
		return err
	}

	tenant, err := q.GetTenant(ctx, tx.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	target := tenant.CallbackURL
	if tx.CallbackURL != nil && *tx.CallbackURL != "" {
		target = *tx.CallbackURL
	}
	if target == "" {
		return nil
	}

	payload, err := json.Marshal(buildDeliveryPayload(tx))
	if err != nil {
		return fmt.Errorf("encode delivery payload: %w", err)
	}
	if _, err := q.CreateDelivery(ctx, &models.CallbackDelivery{
		TransactionID: tx.ID,
		TenantID:      tx.TenantID,
		URL:           target,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("queue delivery: %w", err)
	}
	return nil
}

func buildDeliveryPayload(tx models.Transaction) DeliveryPayload {
	p := DeliveryPayload{
		TransactionID: tx.ID,
		ObjectRef:     tx.ObjectRef,
		Status:        tx.Status,
		Amount:        domain.NewMoney(tx.AmountMicros, tx.Currency).ToDecimal().String(),
		AmountMicros:  tx.AmountMicros,
		Currency:      tx.Currency,
		Provider:      tx.Provider,
		Phone:         tx.Phone,
	}
	if tx.ProcessorRef != nil {
		p.ProcessorRef = *tx.ProcessorRef
	}
	if tx.Message != nil {
		p.Message = *tx.Message
	}
	return p
}
