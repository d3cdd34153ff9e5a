package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ikwen/paygate/internal/domain"
)

type YupConfig struct {
	BaseURL    string
	MerchantID string
	APIKey     string
}

// Yup opens a payment session and redirects the payer to it. The result is
// reported on our callback URL as query parameters.
type Yup struct {
	cfg    YupConfig
	client *Client
}

func NewYup(cfg YupConfig, client *Client) *Yup {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Yup{cfg: cfg, client: client}
}

func (g *Yup) Provider() domain.Provider { return domain.ProviderYup }
func (g *Yup) Mode() Mode                { return ModeRedirect }

type yupSession struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

func (g *Yup) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	form := url.Values{}
	form.Set("merchant_id", g.cfg.MerchantID)
	form.Set("amount", formatAmount(req.AmountMicros, req.Currency))
	form.Set("currency", req.Currency)
	form.Set("reference", req.TransactionID.String())
	form.Set("description", req.Description)
	form.Set("callback_url", req.CallbackURL)
	form.Set("return_url", req.ReturnURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/api/v1/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, newError(g.Provider(), err, 0)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-Api-Key", g.cfg.APIKey)

	status, body, err := g.client.Do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	var session yupSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, newError(g.Provider(), fmt.Errorf("decode session: %w", err), status)
	}
	if session.Token == "" {
		return nil, newError(g.Provider(), fmt.Errorf("session rejected: %s", session.Message), status)
	}
	return &ChargeResult{
		ProcessorRef:   session.Token,
		Status:         domain.TxStatusRunning,
		PaymentURL:     g.cfg.BaseURL + "/pay/" + url.PathEscape(session.Token),
		ProcessorToken: session.Token,
	}, nil
}

func (g *Yup) ParseCallback(_ context.Context, req CallbackRequest) (*CallbackUpdate, error) {
	q := req.Query
	token := q.Get("token")
	if req.ProcessorToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(req.ProcessorToken)) != 1 {
		return nil, ErrInvalidSignature
	}
	update := &CallbackUpdate{TransactionID: req.TransactionID, ProcessorRef: q.Get("ref")}
	switch strings.ToLower(q.Get("status")) {
	case "success":
		update.Status = domain.TxStatusSuccess
	case "failed", "cancelled":
		update.Status = domain.TxStatusFailure
		update.Message = q.Get("message")
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidCallback, q.Get("status"))
	}
	return update, nil
}
