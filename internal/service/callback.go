package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/archive"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/gateway"
	"github.com/ikwen/paygate/internal/observability"
	"github.com/ikwen/paygate/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CallbackTokenParam is the query parameter carrying a transaction's
// callback token. Providers add their own parameters next to it, so it must
// not collide with names they use such as "token".
const CallbackTokenParam = "cb_token"

// Headers never written to the archive.
var redactedHeaders = map[string]struct{}{
	"Authorization":       {},
	"Proxy-Authorization": {},
	"Cookie":              {},
	"X-Api-Key":           {},
}

// CallbackService handles provider notifications about charge outcomes.
type CallbackService struct {
	store    QueryStore
	gateways *gateway.Registry
	archive  archive.Archive
	settler  *settler
}

func NewCallbackService(store QueryStore, gateways *gateway.Registry, arch archive.Archive) *CallbackService {
	if arch == nil {
		arch = archive.Nop{}
	}
	return &CallbackService{
		store:    store,
		gateways: gateways,
		archive:  arch,
		settler:  &settler{store: store, audit: NewAuditService()},
	}
}

// InboundCallback is the raw provider request as received by the HTTP layer.
type InboundCallback struct {
	Provider      string
	TransactionID uuid.UUID
	Token         string
	Method        string
	URL           string
	RemoteAddr    string
	Body          []byte
	Header        http.Header
	Query         url.Values
	Form          url.Values
}

// CallbackResult tells the provider what happened to its notification.
type CallbackResult struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Status        domain.TxStatus `json:"status"`
	Outcome       Outcome         `json:"outcome"`
}

// Handle verifies and applies a provider callback. Duplicate and out-of-order
// callbacks are acknowledged without error so the provider stops retrying.
func (s *CallbackService) Handle(ctx context.Context, in InboundCallback) (res *CallbackResult, err error) {
	ctx, span := observability.Tracer().Start(ctx, "callback.handle")
	span.SetAttributes(
		attribute.String("provider", in.Provider),
		attribute.String("transaction_id", in.TransactionID.String()),
	)
	defer span.End()

	defer func() {
		outcome := "error"
		if err == nil {
			outcome = string(res.Outcome)
		} else {
			span.RecordError(err)
		}
		observability.IncrementProviderCallback(in.Provider, outcome)
		s.record(ctx, in, outcome)
	}()

	provider, ok := domain.ParseProvider(in.Provider)
	if !ok {
		return nil, ErrProviderUnavailable
	}
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, ErrProviderUnavailable
	}

	tx, err := s.store.Queries().GetTransaction(ctx, in.TransactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(in.Token), []byte(tx.CallbackToken)) != 1 {
		return nil, ErrInvalidCallbackToken
	}
	if tx.Provider != provider {
		return nil, ErrProviderMismatch
	}

	req := gateway.CallbackRequest{
		TransactionID: tx.ID,
		Body:          in.Body,
		Header:        in.Header,
		Query:         withoutCallbackToken(in.Query),
		Form:          in.Form,
	}
	if tx.ProcessorToken != nil {
		req.ProcessorToken = *tx.ProcessorToken
	}
	update, err := gw.ParseCallback(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidSignature):
			return nil, ErrInvalidCallbackSig
		case errors.Is(err, gateway.ErrInvalidCallback):
			return nil, fmt.Errorf("%w: %v", ErrInvalidCallbackPayload, err)
		}
		return nil, fmt.Errorf("parse callback: %w", err)
	}
	if update.TransactionID != uuid.Nil && update.TransactionID != tx.ID {
		return nil, fmt.Errorf("%w: callback is for transaction %s", ErrInvalidCallbackPayload, update.TransactionID)
	}

	if update.Status == domain.TxStatusRunning {
		return &CallbackResult{TransactionID: tx.ID, Status: tx.Status, Outcome: OutcomePending}, nil
	}

	meta, _ := json.Marshal(map[string]string{"processor_ref": update.ProcessorRef})
	settled, outcome, err := s.settler.apply(ctx, settleInput{
		TransactionID: tx.ID,
		Status:        update.Status,
		ProcessorRef:  update.ProcessorRef,
		Message:       update.Message,
		Action:        "provider_callback",
		Metadata:      meta,
	})
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeIgnored {
		zap.L().Warn("provider callback ignored",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("provider", string(provider)),
			zap.String("current_status", string(settled.Status)),
			zap.String("callback_status", string(update.Status)),
		)
	}
	return &CallbackResult{TransactionID: tx.ID, Status: settled.Status, Outcome: outcome}, nil
}

func (s *CallbackService) record(ctx context.Context, in InboundCallback, outcome string) {
	headers := make(map[string]string, len(in.Header))
	for k := range in.Header {
		if _, skip := redactedHeaders[http.CanonicalHeaderKey(k)]; skip {
			continue
		}
		headers[k] = in.Header.Get(k)
	}
	entry := archive.Entry{
		Kind:          archive.KindProviderCallback,
		Provider:      in.Provider,
		TransactionID: in.TransactionID.String(),
		Method:        in.Method,
		URL:           redactURL(in.URL),
		Headers:       headers,
		Body:          string(in.Body),
		RemoteAddr:    in.RemoteAddr,
		Outcome:       outcome,
		CreatedAt:     time.Now().UTC(),
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.archive.Record(recordCtx, entry); err != nil {
		zap.L().Warn("archive provider callback", zap.String("transaction_id", entry.TransactionID), zap.Error(err))
	}
}

func withoutCallbackToken(q url.Values) url.Values {
	if _, ok := q[CallbackTokenParam]; !ok {
		return q
	}
	out := make(url.Values, len(q))
	for k, v := range q {
		if k != CallbackTokenParam {
			out[k] = v
		}
	}
	return out
}

// redactURL drops the callback token from an archived request URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	if _, ok := q[CallbackTokenParam]; !ok {
		return raw
	}
	q.Del(CallbackTokenParam)
	u.RawQuery = q.Encode()
	return u.String()
}

// ListArchive returns archived exchanges for a transaction, newest first.
func (s *CallbackService) ListArchive(ctx context.Context, transactionID uuid.UUID, limit int64) ([]archive.Entry, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	entries, err := s.archive.ListByTransaction(ctx, transactionID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	return entries, nil
}
