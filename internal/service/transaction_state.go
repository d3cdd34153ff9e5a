package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/repository"
)

// Timeout stays open to Success and Failure so a late provider callback can
// settle a swept transaction.
var transactionTransitions = map[domain.TxStatus]map[domain.TxStatus]struct{}{
	domain.TxStatusRunning: {
		domain.TxStatusSuccess:     {},
		domain.TxStatusFailure:     {},
		domain.TxStatusTimeout:     {},
		domain.TxStatusServerError: {},
		domain.TxStatusSSLError:    {},
		domain.TxStatusAPIError:    {},
	},
	domain.TxStatusTimeout: {
		domain.TxStatusSuccess: {},
		domain.TxStatusFailure: {},
	},
	domain.TxStatusSuccess:     {},
	domain.TxStatusFailure:     {},
	domain.TxStatusServerError: {},
	domain.TxStatusSSLError:    {},
	domain.TxStatusAPIError:    {},
}

func canTransition(current, next domain.TxStatus) bool {
	nextStates, ok := transactionTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transitionTransaction locks the transaction, validates the move and writes
// the status and its audit row. It reports false without error when the
// transaction already has the requested status.
func transitionTransaction(ctx context.Context, q repository.Querier, audit *AuditService, transactionID uuid.UUID, next domain.TxStatus, message string, actorID *uuid.UUID, action string, metadata []byte) (models.Transaction, bool, error) {
	tx, err := q.GetTransactionForUpdate(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Transaction{}, false, ErrTransactionNotFound
		}
		return models.Transaction{}, false, fmt.Errorf("get current transaction state: %w", err)
	}

	if tx.Status == next {
		return tx, false, nil
	}
	if !canTransition(tx.Status, next) {
		return tx, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, next)
	}

	rows, err := q.UpdateTransactionStatus(ctx, repository.UpdateTransactionStatusParams{
		ID:      transactionID,
		Status:  string(next),
		Message: textParam(message),
	})
	if err != nil {
		return tx, false, fmt.Errorf("update transaction state: %w", err)
	}
	if err := requireExactlyOne(rows, "update transaction state"); err != nil {
		return tx, false, err
	}

	if err := audit.Write(ctx, q, "transaction", transactionID, actorID, action, string(tx.Status), string(next), metadata); err != nil {
		return tx, false, err
	}

	tx.Status = next
	if message != "" {
		tx.Message = &message
	}
	return tx, true, nil
}
