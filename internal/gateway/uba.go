package gateway

import (
	"context"
	"crypto/hmac"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
)

type UBAConfig struct {
	BaseURL    string
	MerchantID string
	Secret     string
}

// UBA is a hosted card payment page. Charge only signs a checkout URL; the
// card page posts the result back as a signed form.
type UBA struct {
	cfg UBAConfig
}

func NewUBA(cfg UBAConfig) *UBA {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &UBA{cfg: cfg}
}

func (g *UBA) Provider() domain.Provider { return domain.ProviderUBA }
func (g *UBA) Mode() Mode                { return ModeRedirect }

func (g *UBA) chargeHash(reference, amount, currency string) string {
	msg := strings.Join([]string{g.cfg.MerchantID, reference, amount, currency}, "|")
	return hmacHex([]byte(g.cfg.Secret), []byte(msg))
}

func (g *UBA) callbackHash(reference, status, transactionID string) string {
	msg := strings.Join([]string{reference, status, transactionID}, "|")
	return hmacHex([]byte(g.cfg.Secret), []byte(msg))
}

func (g *UBA) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(g.Provider(), err, 0)
	}
	reference := req.TransactionID.String()
	amount := formatAmount(req.AmountMicros, req.Currency)
	q := url.Values{}
	q.Set("merchant_id", g.cfg.MerchantID)
	q.Set("reference", reference)
	q.Set("amount", amount)
	q.Set("currency", req.Currency)
	q.Set("description", req.Description)
	q.Set("notify_url", req.CallbackURL)
	if req.ReturnURL != "" {
		q.Set("return_url", req.ReturnURL)
	}
	q.Set("hash", g.chargeHash(reference, amount, req.Currency))

	return &ChargeResult{
		ProcessorRef: reference,
		Status:       domain.TxStatusRunning,
		PaymentURL:   g.cfg.BaseURL + "/checkout?" + q.Encode(),
	}, nil
}

// ParseCallback verifies the form hash. Status "00" is an approved payment.
func (g *UBA) ParseCallback(_ context.Context, req CallbackRequest) (*CallbackUpdate, error) {
	form := req.Form
	if len(form) == 0 && len(req.Body) > 0 {
		parsed, err := url.ParseQuery(string(req.Body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
		}
		form = parsed
	}
	reference := form.Get("reference")
	status := form.Get("status")
	transactionID := form.Get("transaction_id")
	if reference == "" || status == "" {
		return nil, fmt.Errorf("%w: missing reference or status", ErrInvalidCallback)
	}
	if g.cfg.Secret == "" || !hmac.Equal([]byte(form.Get("hash")), []byte(g.callbackHash(reference, status, transactionID))) {
		return nil, ErrInvalidSignature
	}
	txID, err := uuid.Parse(reference)
	if err != nil {
		return nil, fmt.Errorf("%w: reference %q", ErrInvalidCallback, reference)
	}

	update := &CallbackUpdate{TransactionID: txID, ProcessorRef: transactionID, Status: domain.TxStatusFailure}
	if status == "00" {
		update.Status = domain.TxStatusSuccess
	} else {
		update.Message = form.Get("message")
		if update.Message == "" {
			update.Message = "declined with code " + status
		}
	}
	return update, nil
}
