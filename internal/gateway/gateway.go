package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/ikwen/paygate/internal/domain"
)

// Mode tells the ledger how a provider completes a charge.
type Mode int

const (
	// ModePush prompts the payer on their phone; the result arrives by callback.
	ModePush Mode = iota
	// ModeRedirect returns a payment URL the payer must visit.
	ModeRedirect
)

func (m Mode) String() string {
	if m == ModeRedirect {
		return "redirect"
	}
	return "push"
}

var (
	ErrInvalidCallback  = errors.New("invalid provider callback")
	ErrInvalidSignature = errors.New("invalid provider signature")
	ErrDeclined         = errors.New("payment declined by provider")
	ErrUnknownProvider  = errors.New("unknown provider")
)

// ChargeRequest carries everything a provider needs to start a collection.
type ChargeRequest struct {
	TransactionID uuid.UUID
	AmountMicros  int64
	Currency      string
	Phone         string
	ObjectRef     string
	Description   string
	CallbackURL   string
	ReturnURL     string
}

// ChargeResult is the provider's synchronous answer to a charge.
type ChargeResult struct {
	ProcessorRef   string
	Status         domain.TxStatus
	PaymentURL     string
	ProcessorToken string
	Message        string
}

// CallbackRequest is the raw inbound provider notification.
type CallbackRequest struct {
	TransactionID  uuid.UUID
	ProcessorToken string
	Body           []byte
	Header         http.Header
	Query          url.Values
	Form           url.Values
}

// CallbackUpdate is the provider-neutral outcome parsed from a callback or
// a status poll. Status is Success, Failure or Running.
type CallbackUpdate struct {
	TransactionID uuid.UUID
	ProcessorRef  string
	Status        domain.TxStatus
	Message       string
}

// Gateway is implemented by every payment provider adapter.
type Gateway interface {
	Provider() domain.Provider
	Mode() Mode
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	ParseCallback(ctx context.Context, req CallbackRequest) (*CallbackUpdate, error)
}

// StatusChecker is implemented by adapters able to poll a charge's outcome.
type StatusChecker interface {
	CheckStatus(ctx context.Context, processorRef string) (*CallbackUpdate, error)
}

func formatAmount(micros int64, currency string) string {
	return domain.NewMoney(micros, currency).ToDecimal().String()
}
