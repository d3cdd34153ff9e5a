package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ikwen/paygate/internal/domain"
	"github.com/ikwen/paygate/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const maxResponseBody = 1 << 20

// ClientOptions configures the outbound HTTP client shared by adapters.
type ClientOptions struct {
	Timeout   time.Duration
	RPS       float64
	Burst     int
	Transport http.RoundTripper
}

// Client is an instrumented, rate-limited HTTP client bound to one provider.
type Client struct {
	provider domain.Provider
	http     *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
}

func NewClient(provider domain.Provider, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		provider: provider,
		http:     &http.Client{Transport: otelhttp.NewTransport(base)},
		limiter:  rate.NewLimiter(limit, burst),
		timeout:  opts.Timeout,
	}
}

// Do sends req and returns the response status and body. Transport failures
// and non-2xx answers are returned as *Error.
func (c *Client) Do(ctx context.Context, req *http.Request) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, newError(c.provider, fmt.Errorf("rate limiter: %w", err), 0)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("gateway.provider", string(c.provider)))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		gwErr := newError(c.provider, err, 0)
		c.observe(string(gwErr.Status), start)
		return 0, nil, gwErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		gwErr := newError(c.provider, fmt.Errorf("read response: %w", err), resp.StatusCode)
		c.observe(string(gwErr.Status), start)
		return resp.StatusCode, nil, gwErr
	}

	span.SetAttributes(attribute.Int("gateway.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		gwErr := newError(c.provider, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body)), resp.StatusCode)
		c.observe(string(gwErr.Status), start)
		return resp.StatusCode, body, gwErr
	}
	c.observe("ok", start)
	return resp.StatusCode, body, nil
}

// DoJSON encodes in (when non-nil) as the request body and decodes the
// response into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, url string, header http.Header, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, newError(c.provider, fmt.Errorf("build request: %w", err), 0)
	}
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	status, respBody, err := c.Do(ctx, req)
	if err != nil {
		return status, err
	}
	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return status, newError(c.provider, fmt.Errorf("decode response: %w", err), status)
		}
	}
	return status, nil
}

func (c *Client) observe(outcome string, start time.Time) {
	observability.ObserveGatewayCall(string(c.provider), outcome, time.Since(start))
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}
