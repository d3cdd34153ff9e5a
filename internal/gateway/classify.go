package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ikwen/paygate/internal/domain"
)

// Error is a provider call failure with its classified transaction status.
type Error struct {
	Provider   domain.Provider
	Status     domain.TxStatus
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s: %s (http %d): %v", e.Provider, e.Status, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Status, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(provider domain.Provider, err error, httpStatus int) *Error {
	return &Error{
		Provider:   provider,
		Status:     Classify(err, httpStatus),
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Classify maps a provider call failure onto a transaction status.
func Classify(err error, httpStatus int) domain.TxStatus {
	if err == nil && httpStatus < http.StatusBadRequest {
		return domain.TxStatusRunning
	}
	if isTLSError(err) {
		return domain.TxStatusSSLError
	}
	if isTimeout(err) {
		return domain.TxStatusTimeout
	}
	if errors.Is(err, ErrDeclined) {
		return domain.TxStatusFailure
	}
	if httpStatus >= http.StatusInternalServerError {
		return domain.TxStatusServerError
	}
	return domain.TxStatusAPIError
}

// StatusOf returns the classified status carried by err.
func StatusOf(err error) domain.TxStatus {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Status
	}
	return Classify(err, 0)
}

func isTLSError(err error) bool {
	if err == nil {
		return false
	}
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		verification     *tls.CertificateVerificationError
		recordHeader     tls.RecordHeaderError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid) ||
		errors.As(err, &verification) ||
		errors.As(err, &recordHeader)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
