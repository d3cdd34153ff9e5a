package domain

import "strings"

// Provider identifies a mobile-money or card gateway.
type Provider string

const (
	ProviderMTNMoMo     Provider = "mtn-momo"
	ProviderOrangeMoney Provider = "orange-money"
	ProviderUBA         Provider = "uba"
	ProviderYup         Provider = "yup"
	ProviderJumboPay    Provider = "jumbopay"
	ProviderSandbox     Provider = "sandbox"
)

var knownProviders = map[Provider]struct{}{
	ProviderMTNMoMo:     {},
	ProviderOrangeMoney: {},
	ProviderUBA:         {},
	ProviderYup:         {},
	ProviderJumboPay:    {},
	ProviderSandbox:     {},
}

// ParseProvider normalizes a provider name and reports whether it is known.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	_, ok := knownProviders[p]
	return p, ok
}

// TxStatus is the lifecycle status of a payment transaction.
type TxStatus string

const (
	TxStatusRunning     TxStatus = "Running"
	TxStatusSuccess     TxStatus = "Success"
	TxStatusFailure     TxStatus = "Failure"
	TxStatusTimeout     TxStatus = "Timeout"
	TxStatusServerError TxStatus = "ServerError"
	TxStatusSSLError    TxStatus = "SSLError"
	TxStatusAPIError    TxStatus = "ApiError"
)

// Terminal reports whether no further processing is expected for the status.
// Timeout is terminal for workers but may still be settled by a late callback.
func (s TxStatus) Terminal() bool {
	return s != TxStatusRunning
}

// ParseTxStatus accepts status names case-insensitively.
func ParseTxStatus(s string) (TxStatus, bool) {
	for _, st := range []TxStatus{
		TxStatusRunning, TxStatusSuccess, TxStatusFailure, TxStatusTimeout,
		TxStatusServerError, TxStatusSSLError, TxStatusAPIError,
	} {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// CashOutStatus is the settlement status of a cash-out request.
type CashOutStatus string

const (
	CashOutStatusPending CashOutStatus = "Pending"
	CashOutStatusPaid    CashOutStatus = "Paid"
)

const (
	DefaultCurrency = "XAF"

	RoleAdmin = "admin"
	RoleIAO   = "iao"

	// Callback delivery statuses
	DeliveryStatusPending    = "PENDING"
	DeliveryStatusDelivering = "DELIVERING"
	DeliveryStatusDelivered  = "DELIVERED"
	DeliveryStatusFailed     = "FAILED"
)
