package gateway

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ikwen/paygate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		want   domain.TxStatus
	}{
		{"tls", fmt.Errorf("dial: %w", x509.UnknownAuthorityError{}), 0, domain.TxStatusSSLError},
		{"deadline", context.DeadlineExceeded, 0, domain.TxStatusTimeout},
		{"net timeout", fmt.Errorf("post: %w", timeoutErr{}), 0, domain.TxStatusTimeout},
		{"server error", errors.New("bad gateway"), http.StatusBadGateway, domain.TxStatusServerError},
		{"client error", errors.New("bad request"), http.StatusBadRequest, domain.TxStatusAPIError},
		{"decline", fmt.Errorf("insufficient funds: %w", ErrDeclined), http.StatusOK, domain.TxStatusFailure},
		{"other", errors.New("connection refused"), 0, domain.TxStatusAPIError},
		{"ok", nil, http.StatusAccepted, domain.TxStatusRunning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err, tc.status))
		})
	}
}

func TestStatusOfUnwrapsGatewayError(t *testing.T) {
	err := fmt.Errorf("charge: %w", &Error{Provider: domain.ProviderMTNMoMo, Status: domain.TxStatusServerError, HTTPStatus: 503, Err: errors.New("down")})
	assert.Equal(t, domain.TxStatusServerError, StatusOf(err))
	assert.Equal(t, domain.TxStatusTimeout, StatusOf(context.DeadlineExceeded))
}

func TestClientDoClassifiesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	c := NewClient(domain.ProviderJumboPay, ClientOptions{Timeout: time.Second})
	_, err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, domain.TxStatusServerError, StatusOf(err))
}

func TestClientDoClassifiesTimeouts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(domain.ProviderJumboPay, ClientOptions{Timeout: 50 * time.Millisecond})
	_, err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, domain.TxStatusTimeout, StatusOf(err))
}

func TestClientDoClassifiesTLSErrors(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// default transport does not trust the test certificate
	c := NewClient(domain.ProviderUBA, ClientOptions{Timeout: time.Second})
	_, err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, domain.TxStatusSSLError, StatusOf(err))
}

func TestClientDoRejectsMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	c := NewClient(domain.ProviderYup, ClientOptions{Timeout: time.Second})
	var out map[string]any
	_, err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, &out)
	require.Error(t, err)
	assert.Equal(t, domain.TxStatusAPIError, StatusOf(err))
}
