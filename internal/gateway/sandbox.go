package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
	"go.uber.org/zap"
)

// Sandbox simulates a push provider for development. It accepts every
// charge, waits a random delay, then settles the charge by calling our own
// callback endpoint. FailureRate of the charges are reported as failed.
type Sandbox struct {
	// FailureRate is the probability of a failed payment (0.0 to 1.0).
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration

	client *http.Client
}

// NewSandbox creates a Sandbox with a 2-5 second settlement delay.
func NewSandbox(failureRate float64) *Sandbox {
	return &Sandbox{
		FailureRate: failureRate,
		MinDelay:    2 * time.Second,
		MaxDelay:    5 * time.Second,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *Sandbox) Provider() domain.Provider { return domain.ProviderSandbox }
func (g *Sandbox) Mode() Mode                { return ModePush }

type sandboxNotification struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Ref       string `json:"ref"`
}

func (g *Sandbox) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(g.Provider(), fmt.Errorf("gateway call canceled: %w", err), 0)
	}

	// Format: SANDBOX-YYYYMMDD-HHMMSS-XXXXX
	ref := fmt.Sprintf("SANDBOX-%s-%05d", time.Now().Format("20060102-150405"), rand.Intn(100000))
	status := "success"
	if rand.Float64() < g.FailureRate {
		status = "failed"
	}
	if req.CallbackURL != "" {
		go g.settle(req.CallbackURL, sandboxNotification{Reference: req.TransactionID.String(), Status: status, Ref: ref})
	}
	return &ChargeResult{ProcessorRef: ref, Status: domain.TxStatusRunning}, nil
}

func (g *Sandbox) delay() time.Duration {
	span := g.MaxDelay - g.MinDelay
	if span <= 0 {
		return g.MinDelay
	}
	return g.MinDelay + time.Duration(rand.Int63n(int64(span)))
}

func (g *Sandbox) settle(callbackURL string, n sandboxNotification) {
	time.Sleep(g.delay())

	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		zap.L().Warn("sandbox callback request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		zap.L().Warn("sandbox callback failed", zap.String("reference", n.Reference), zap.Error(err))
		return
	}
	resp.Body.Close()
}

func (g *Sandbox) ParseCallback(_ context.Context, req CallbackRequest) (*CallbackUpdate, error) {
	var n sandboxNotification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	txID, err := uuid.Parse(n.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: reference %q", ErrInvalidCallback, n.Reference)
	}
	update := &CallbackUpdate{TransactionID: txID, ProcessorRef: n.Ref}
	switch n.Status {
	case "success":
		update.Status = domain.TxStatusSuccess
	case "failed":
		update.Status = domain.TxStatusFailure
		update.Message = "sandbox decline"
	default:
		return nil, fmt.Errorf("%w: status %q", ErrInvalidCallback, n.Status)
	}
	return update, nil
}
