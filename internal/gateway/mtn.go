package gateway

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
)

type MTNConfig struct {
	BaseURL         string
	APIUser         string
	APIKey          string
	SubscriptionKey string
	Environment     string
}

// MTN collects through MTN Mobile Money request-to-pay. The payer confirms
// the prompt on their handset and MTN posts a SOAP notification back.
type MTN struct {
	cfg    MTNConfig
	client *Client
}

func NewMTN(cfg MTNConfig, client *Client) *MTN {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Environment == "" {
		cfg.Environment = "sandbox"
	}
	return &MTN{cfg: cfg, client: client}
}

func (g *MTN) Provider() domain.Provider { return domain.ProviderMTNMoMo }
func (g *MTN) Mode() Mode                { return ModePush }

type mtnParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type mtnRequestToPay struct {
	Amount       string   `json:"amount"`
	Currency     string   `json:"currency"`
	ExternalID   string   `json:"externalId"`
	Payer        mtnParty `json:"payer"`
	PayerMessage string   `json:"payerMessage"`
	PayeeNote    string   `json:"payeeNote"`
}

type mtnStatusResponse struct {
	FinancialTransactionID string `json:"financialTransactionId"`
	ExternalID             string `json:"externalId"`
	Status                 string `json:"status"`
	Reason                 any    `json:"reason"`
}

func (g *MTN) headers() http.Header {
	h := http.Header{}
	creds := base64.StdEncoding.EncodeToString([]byte(g.cfg.APIUser + ":" + g.cfg.APIKey))
	h.Set("Authorization", "Basic "+creds)
	h.Set("Ocp-Apim-Subscription-Key", g.cfg.SubscriptionKey)
	h.Set("X-Target-Environment", g.cfg.Environment)
	return h
}

func (g *MTN) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	ref := req.TransactionID.String()
	h := g.headers()
	h.Set("X-Reference-Id", ref)
	if req.CallbackURL != "" {
		h.Set("X-Callback-Url", req.CallbackURL)
	}

	body := mtnRequestToPay{
		Amount:       formatAmount(req.AmountMicros, req.Currency),
		Currency:     req.Currency,
		ExternalID:   ref,
		Payer:        mtnParty{PartyIDType: "MSISDN", PartyID: strings.TrimPrefix(req.Phone, "+")},
		PayerMessage: req.Description,
		PayeeNote:    req.ObjectRef,
	}
	status, err := g.client.DoJSON(ctx, http.MethodPost, g.cfg.BaseURL+"/collection/v1_0/requesttopay", h, body, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusAccepted && status != http.StatusOK {
		return nil, newError(g.Provider(), fmt.Errorf("unexpected status %d", status), status)
	}
	return &ChargeResult{ProcessorRef: ref, Status: domain.TxStatusRunning}, nil
}

type mtnEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Request struct {
			ProcessingNumber string `xml:"ProcessingNumber"`
			MOMTransactionID string `xml:"MOMTransactionID"`
			StatusCode       string `xml:"StatusCode"`
			StatusDesc       string `xml:"StatusDesc"`
		} `xml:",any"`
	} `xml:"Body"`
}

// ParseCallback reads the SOAP requestPaymentCompleted notification.
// StatusCode "01" means the payer approved the debit.
func (g *MTN) ParseCallback(_ context.Context, req CallbackRequest) (*CallbackUpdate, error) {
	var env mtnEnvelope
	if err := xml.Unmarshal(req.Body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	n := env.Body.Request
	if n.ProcessingNumber == "" || n.StatusCode == "" {
		return nil, fmt.Errorf("%w: missing ProcessingNumber or StatusCode", ErrInvalidCallback)
	}
	txID, err := uuid.Parse(strings.TrimSpace(n.ProcessingNumber))
	if err != nil {
		return nil, fmt.Errorf("%w: ProcessingNumber %q", ErrInvalidCallback, n.ProcessingNumber)
	}
	if req.TransactionID != uuid.Nil && txID != req.TransactionID {
		return nil, fmt.Errorf("%w: ProcessingNumber does not match transaction", ErrInvalidCallback)
	}

	update := &CallbackUpdate{
		TransactionID: txID,
		ProcessorRef:  strings.TrimSpace(n.MOMTransactionID),
		Status:        domain.TxStatusFailure,
		Message:       strings.TrimSpace(n.StatusDesc),
	}
	if strings.TrimSpace(n.StatusCode) == "01" {
		update.Status = domain.TxStatusSuccess
	}
	return update, nil
}

func (g *MTN) CheckStatus(ctx context.Context, processorRef string) (*CallbackUpdate, error) {
	var out mtnStatusResponse
	url := fmt.Sprintf("%s/collection/v1_0/requesttopay/%s", g.cfg.BaseURL, processorRef)
	if _, err := g.client.DoJSON(ctx, http.MethodGet, url, g.headers(), nil, &out); err != nil {
		return nil, err
	}

	update := &CallbackUpdate{ProcessorRef: out.FinancialTransactionID, Message: fmt.Sprint(out.Reason)}
	if id, err := uuid.Parse(out.ExternalID); err == nil {
		update.TransactionID = id
	}
	switch strings.ToUpper(out.Status) {
	case "SUCCESSFUL":
		update.Status = domain.TxStatusSuccess
	case "FAILED", "REJECTED", "TIMEOUT":
		update.Status = domain.TxStatusFailure
	default:
		update.Status = domain.TxStatusRunning
	}
	if out.Reason == nil {
		update.Message = ""
	}
	return update, nil
}
