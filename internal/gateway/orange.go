package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
	"github.com/sethvargo/go-retry"
)

type OrangeConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	MerchantKey  string
	ReturnURL    string
	CancelURL    string
}

// Orange collects through the Orange Money web payment API: the payer is
// redirected to payment_url and Orange notifies us with notif_token.
type Orange struct {
	cfg    OrangeConfig
	client *Client
	now    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewOrange(cfg OrangeConfig, client *Client) *Orange {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Orange{cfg: cfg, client: client, now: time.Now}
}

func (g *Orange) Provider() domain.Provider { return domain.ProviderOrangeMoney }
func (g *Orange) Mode() Mode                { return ModeRedirect }

type orangeToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// accessToken returns the cached OAuth token, refreshing it a minute before expiry.
func (g *Orange) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && g.now().Before(g.expiresAt) {
		return g.token, nil
	}

	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	var tok orangeToken
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		form := url.Values{"grant_type": {"client_credentials"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/oauth/v3/token", strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		creds := base64.StdEncoding.EncodeToString([]byte(g.cfg.ClientID + ":" + g.cfg.ClientSecret))
		req.Header.Set("Authorization", "Basic "+creds)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		status, body, err := g.client.Do(ctx, req)
		if err != nil {
			var gwErr *Error
			if errors.As(err, &gwErr) && status > 0 && status < http.StatusInternalServerError {
				return err
			}
			return retry.RetryableError(err)
		}
		if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
			return newError(g.Provider(), fmt.Errorf("invalid token response"), status)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= time.Minute {
		ttl = 2 * time.Minute
	}
	g.token = tok.AccessToken
	g.expiresAt = g.now().Add(ttl - time.Minute)
	return g.token, nil
}

type orangeWebPayment struct {
	MerchantKey string `json:"merchant_key"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
	NotifURL    string `json:"notif_url"`
	Lang        string `json:"lang"`
	Reference   string `json:"reference"`
}

type orangeWebPaymentResponse struct {
	Status     int    `json:"status"`
	Message    string `json:"message"`
	PayToken   string `json:"pay_token"`
	PaymentURL string `json:"payment_url"`
	NotifToken string `json:"notif_token"`
}

func (g *Orange) authHeader(ctx context.Context) (http.Header, error) {
	token, err := g.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func (g *Orange) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	h, err := g.authHeader(ctx)
	if err != nil {
		return nil, err
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = g.cfg.ReturnURL
	}
	body := orangeWebPayment{
		MerchantKey: g.cfg.MerchantKey,
		Currency:    strings.ToUpper(req.Currency),
		OrderID:     req.TransactionID.String(),
		Amount:      domain.NewMoney(req.AmountMicros, req.Currency).ToDecimal().IntPart(),
		ReturnURL:   returnURL,
		CancelURL:   g.cfg.CancelURL,
		NotifURL:    req.CallbackURL,
		Lang:        "fr",
		Reference:   req.ObjectRef,
	}
	var out orangeWebPaymentResponse
	status, err := g.client.DoJSON(ctx, http.MethodPost, g.cfg.BaseURL+"/orange-money-webpay/cm/v1/webpayment", h, body, &out)
	if err != nil {
		return nil, err
	}
	if out.PaymentURL == "" || out.PayToken == "" {
		return nil, newError(g.Provider(), fmt.Errorf("webpayment rejected: %s", out.Message), status)
	}
	return &ChargeResult{
		ProcessorRef:   out.PayToken,
		Status:         domain.TxStatusRunning,
		PaymentURL:     out.PaymentURL,
		ProcessorToken: out.NotifToken,
		Message:        out.Message,
	}, nil
}

type orangeNotification struct {
	Status     string `json:"status"`
	NotifToken string `json:"notif_token"`
	TxnID      string `json:"txnid"`
}

// ParseCallback checks notif_token against the token Orange issued at charge time.
func (g *Orange) ParseCallback(_ context.Context, req CallbackRequest) (*CallbackUpdate, error) {
	var n orangeNotification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if req.ProcessorToken == "" || subtle.ConstantTimeCompare([]byte(n.NotifToken), []byte(req.ProcessorToken)) != 1 {
		return nil, ErrInvalidSignature
	}

	update := &CallbackUpdate{TransactionID: req.TransactionID, ProcessorRef: n.TxnID}
	switch strings.ToUpper(strings.TrimSpace(n.Status)) {
	case "SUCCESS":
		update.Status = domain.TxStatusSuccess
	case "FAILED", "EXPIRED", "CANCELLED":
		update.Status = domain.TxStatusFailure
		update.Message = n.Status
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidCallback, n.Status)
	}
	return update, nil
}

type orangeStatusRequest struct {
	PayToken string `json:"pay_token"`
}

type orangeStatusResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	TxnID   string `json:"txnid"`
}

func (g *Orange) CheckStatus(ctx context.Context, processorRef string) (*CallbackUpdate, error) {
	h, err := g.authHeader(ctx)
	if err != nil {
		return nil, err
	}
	var out orangeStatusResponse
	body := orangeStatusRequest{PayToken: processorRef}
	if _, err := g.client.DoJSON(ctx, http.MethodPost, g.cfg.BaseURL+"/orange-money-webpay/cm/v1/transactionstatus", h, body, &out); err != nil {
		return nil, err
	}
	update := &CallbackUpdate{ProcessorRef: out.TxnID, Status: domain.TxStatusRunning}
	if id, err := uuid.Parse(out.OrderID); err == nil {
		update.TransactionID = id
	}
	switch strings.ToUpper(out.Status) {
	case "SUCCESS":
		update.Status = domain.TxStatusSuccess
	case "FAILED", "EXPIRED":
		update.Status = domain.TxStatusFailure
		update.Message = out.Status
	}
	return update, nil
}
