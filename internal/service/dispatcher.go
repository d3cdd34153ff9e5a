package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/archive"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/gateway"
	"github.com/ikwen/paygate/internal/models"
	"github.com/ikwen/paygate/internal/observability"
	"github.com/ikwen/paygate/internal/repository"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	SignatureHeader = "X-Ikwen-Signature"
	DeliveryHeader  = "X-Ikwen-Delivery"

	maxDeliveryBackoff = time.Hour
	staleDeliveryAfter = 2 * time.Minute
)

// DeliveryOptions tunes the tenant callback dispatcher.
type DeliveryOptions struct {
	MaxAttempts int32
	BaseBackoff time.Duration
	Timeout     time.Duration
	QuickRetry  time.Duration
	Transport   http.RoundTripper
}

// DeliveryService posts queued notifications to tenant applications.
type DeliveryService struct {
	store   QueryStore
	archive archive.Archive
	client  *http.Client
	opts    DeliveryOptions
	now     func() time.Time
}

func NewDeliveryService(store QueryStore, arch archive.Archive, opts DeliveryOptions) *DeliveryService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.QuickRetry <= 0 {
		opts.QuickRetry = 200 * time.Millisecond
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if arch == nil {
		arch = archive.Nop{}
	}
	return &DeliveryService{
		store:   store,
		archive: arch,
		client:  &http.Client{Transport: otelhttp.NewTransport(base), Timeout: opts.Timeout},
		opts:    opts,
		now:     time.Now,
	}
}

// ComputeBackoff returns the wait before the next round after attempts
// failed rounds: base * 2^(attempts-1), capped at one hour.
func ComputeBackoff(base time.Duration, attempts int32) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := int32(1); i < attempts; i++ {
		d *= 2
		if d >= maxDeliveryBackoff {
			return maxDeliveryBackoff
		}
	}
	if d > maxDeliveryBackoff {
		return maxDeliveryBackoff
	}
	return d
}

// DispatchDue requeues deliveries abandoned by a crashed worker, then sends
// up to batch due deliveries, claiming each one right before it is sent.
// It returns how many were delivered.
func (s *DeliveryService) DispatchDue(ctx context.Context, batch int32) (int, error) {
	q := s.store.Queries()
	if n, err := q.RequeueStaleDeliveries(ctx, s.now().Add(-staleDeliveryAfter)); err != nil {
		return 0, fmt.Errorf("requeue stale deliveries: %w", err)
	} else if n > 0 {
		zap.L().Warn("requeued stale deliveries", zap.Int64("count", n))
	}

	delivered := 0
	for i := int32(0); i < batch; i++ {
		if ctx.Err() != nil {
			break
		}
		due, err := q.ClaimDueDeliveries(ctx, 1)
		if err != nil {
			return delivered, fmt.Errorf("claim deliveries: %w", err)
		}
		if len(due) == 0 {
			break
		}
		if s.deliver(ctx, due[0]) {
			delivered++
		}
	}
	return delivered, nil
}

func (s *DeliveryService) deliver(ctx context.Context, d models.CallbackDelivery) bool {
	attempts := d.Attempts + 1
	log := zap.L().With(
		zap.String("delivery_id", d.ID.String()),
		zap.String("transaction_id", d.TransactionID.String()),
		zap.Int32("attempt", attempts),
	)

	tenant, err := s.store.Queries().GetTenant(ctx, d.TenantID)
	if err != nil {
		log.Error("load tenant for delivery", zap.Error(err))
		s.reschedule(ctx, d, attempts, fmt.Sprintf("load tenant: %v", err))
		return false
	}

	var status int
	backoff := retry.WithMaxRetries(2, retry.NewExponential(s.opts.QuickRetry))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var postErr error
		status, postErr = s.post(ctx, d, tenant.CallbackSecret)
		if postErr != nil {
			return retry.RetryableError(postErr)
		}
		return nil
	})
	s.record(ctx, d, status, err)

	if err == nil {
		n, markErr := s.store.Queries().MarkDeliveryDelivered(context.WithoutCancel(ctx), d.ID, attempts)
		if markErr != nil {
			log.Error("mark delivery delivered", zap.Error(markErr))
			return false
		}
		if n == 0 {
			log.Warn("delivery was requeued while being sent")
			return false
		}
		observability.IncrementDelivery("delivered")
		log.Info("callback delivered", zap.Int("status_code", status))
		return true
	}

	log.Warn("callback delivery failed", zap.Int("status_code", status), zap.Error(err))
	s.reschedule(ctx, d, attempts, err.Error())
	return false
}

func (s *DeliveryService) post(ctx context.Context, d models.CallbackDelivery, secret string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryHeader, d.ID.String())
	if secret != "" {
		req.Header.Set(SignatureHeader, gateway.SignHMAC([]byte(secret), d.Payload, "sha256="))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("tenant answered %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (s *DeliveryService) reschedule(ctx context.Context, d models.CallbackDelivery, attempts int32, lastErr string) {
	params := repository.RescheduleDeliveryParams{
		ID:            d.ID,
		Status:        domain.DeliveryStatusPending,
		Attempts:      attempts,
		LastError:     lastErr,
		NextAttemptAt: s.now().Add(ComputeBackoff(s.opts.BaseBackoff, attempts)),
	}
	outcome := "retry"
	if attempts >= s.opts.MaxAttempts {
		params.Status = domain.DeliveryStatusFailed
		outcome = "failed"
	}
	n, err := s.store.Queries().RescheduleDelivery(context.WithoutCancel(ctx), params)
	if err != nil {
		zap.L().Error("reschedule delivery", zap.String("delivery_id", d.ID.String()), zap.Error(err))
		return
	}
	if n == 0 {
		zap.L().Warn("delivery was requeued while being sent", zap.String("delivery_id", d.ID.String()))
		return
	}
	observability.IncrementDelivery(outcome)
	if outcome == "failed" {
		zap.L().Error("callback delivery exhausted",
			zap.String("delivery_id", d.ID.String()),
			zap.String("transaction_id", d.TransactionID.String()),
			zap.String("last_error", lastErr),
		)
	}
}

func (s *DeliveryService) record(ctx context.Context, d models.CallbackDelivery, status int, deliverErr error) {
	outcome := "delivered"
	if deliverErr != nil {
		outcome = deliverErr.Error()
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	err := s.archive.Record(recordCtx, archive.Entry{
		Kind:          archive.KindDelivery,
		TransactionID: d.TransactionID.String(),
		Method:        http.MethodPost,
		URL:           d.URL,
		Body:          string(d.Payload),
		StatusCode:    status,
		Outcome:       outcome,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		zap.L().Warn("archive delivery", zap.String("delivery_id", d.ID.String()), zap.Error(err))
	}
}

// ListFailed returns deliveries that exhausted their attempts.
func (s *DeliveryService) ListFailed(ctx context.Context, limit, offset int32) ([]models.CallbackDelivery, error) {
	limit, offset = normalizePage(limit, offset)
	items, err := s.store.Queries().ListDeliveriesByStatus(ctx, domain.DeliveryStatusFailed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list failed deliveries: %w", err)
	}
	if items == nil {
		items = []models.CallbackDelivery{}
	}
	return items, nil
}

// Retry puts a FAILED delivery back in the queue with a fresh attempt budget.
func (s *DeliveryService) Retry(ctx context.Context, id uuid.UUID, actorID *uuid.UUID) (*models.CallbackDelivery, error) {
	var out models.CallbackDelivery
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		d, err := q.GetDelivery(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrDeliveryNotFound
			}
			return fmt.Errorf("get delivery: %w", err)
		}
		if d.Status != domain.DeliveryStatusFailed {
			return ErrDeliveryNotFailed
		}
		rows, err := q.RetryDelivery(ctx, id)
		if err != nil {
			return fmt.Errorf("requeue delivery: %w", err)
		}
		if rows == 0 {
			return ErrDeliveryNotFailed
		}
		if err := NewAuditService().Write(ctx, q, "callback_delivery", id, actorID, "manual_retry", domain.DeliveryStatusFailed, domain.DeliveryStatusPending, nil); err != nil {
			return err
		}
		out, err = q.GetDelivery(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
