package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
)

const jumboSignatureHeader = "X-Jumbo-Signature"

type JumboPayConfig struct {
	BaseURL string
	APIKey  string
	Secret  string
}

type JumboPay struct {
	cfg    JumboPayConfig
	client *Client
}

func NewJumboPay(cfg JumboPayConfig, client *Client) *JumboPay {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &JumboPay{cfg: cfg, client: client}
}

func (g *JumboPay) Provider() domain.Provider { return domain.ProviderJumboPay }
func (g *JumboPay) Mode() Mode                { return ModePush }

type jumboPayment struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Phone       string `json:"phone"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
	CallbackURL string `json:"callback_url"`
}

type jumboPaymentResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

func (g *JumboPay) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	h := http.Header{}
	h.Set("X-Api-Key", g.cfg.APIKey)
	body := jumboPayment{
		Amount:      formatAmount(req.AmountMicros, req.Currency),
		Currency:    req.Currency,
		Phone:       req.Phone,
		Reference:   req.TransactionID.String(),
		Description: req.Description,
		CallbackURL: req.CallbackURL,
	}
	var out jumboPaymentResponse
	status, err := g.client.DoJSON(ctx, http.MethodPost, g.cfg.BaseURL+"/payments", h, body, &out)
	if err != nil {
		return nil, err
	}
	txStatus, ok := jumboStatus(out.Status)
	if !ok {
		return nil, newError(g.Provider(), fmt.Errorf("unexpected payment status %q", out.Status), status)
	}
	return &ChargeResult{ProcessorRef: out.TransactionID, Status: txStatus, Message: out.Message}, nil
}

type jumboNotification struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Message       string `json:"message"`
}

func (g *JumboPay) ParseCallback(_ context.Context, req CallbackRequest) (*CallbackUpdate, error) {
	if !VerifyHMAC([]byte(g.cfg.Secret), req.Body, req.Header.Get(jumboSignatureHeader), "sha256=") {
		return nil, ErrInvalidSignature
	}
	var n jumboNotification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	txID, err := uuid.Parse(n.Reference)
	if err != nil {
		return nil, fmt.Errorf("%w: reference %q", ErrInvalidCallback, n.Reference)
	}
	status, ok := jumboStatus(n.Status)
	if !ok || status == domain.TxStatusRunning {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidCallback, n.Status)
	}
	return &CallbackUpdate{TransactionID: txID, ProcessorRef: n.TransactionID, Status: status, Message: n.Message}, nil
}

func jumboStatus(s string) (domain.TxStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "processing":
		return domain.TxStatusRunning, true
	case "completed":
		return domain.TxStatusSuccess, true
	case "failed", "declined":
		return domain.TxStatusFailure, true
	}
	return "", false
}
