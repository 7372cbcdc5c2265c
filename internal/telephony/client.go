package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"call-scheduler/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20

// Credentials authenticate a provider request, either as a sub-account or as
// the parent account (optionally acting on one of its children).
type Credentials struct {
	AccountID      string
	APIKey         string
	Parent         bool
	ChildAccountID string
}

// AccountCredentials authenticates as a tenant sub-account.
func AccountCredentials(accountID, apiKey string) Credentials {
	return Credentials{AccountID: accountID, APIKey: apiKey}
}

func (c Credentials) valid() bool {
	return c.AccountID != "" && c.APIKey != ""
}

func (c Credentials) apply(v url.Values) {
	if c.Parent {
		v.Set("parent_account_id", c.AccountID)
		v.Set("parent_account_api_key", c.APIKey)
		if c.ChildAccountID != "" {
			v.Set("child_account_id", c.ChildAccountID)
		}
		return
	}
	v.Set("account_id", c.AccountID)
	v.Set("api_key", c.APIKey)
}

type ClientConfig struct {
	BaseURL         string
	ParentAccountID string
	ParentAPIKey    string
	Timeout         time.Duration
	RatePerSec      int

	// HTTPClient is optional; tests inject httptest clients here.
	HTTPClient *http.Client
}

// Client calls the provider's management and call-control HTTP API.
// Every operation is a form-encoded POST to {BaseURL}/{Method} answered with
// {"result": ...} or {"error": {"msg": ..., "code": ...}}.
//
// Each request is bounded by the configured timeout and throttled by a shared
// token bucket. Failures are never retried here.
type Client struct {
	baseURL string
	parent  Credentials
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("telephony: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		parent:  Credentials{AccountID: cfg.ParentAccountID, APIKey: cfg.ParentAPIKey, Parent: true},
		timeout: cfg.Timeout,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}, nil
}

// ParentCredentials returns the parent account pair. With childAccountID set,
// requests act on that child (used to read the template account).
func (c *Client) ParentCredentials(childAccountID string) Credentials {
	p := c.parent
	p.ChildAccountID = childAccountID
	return p
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Msg  string `json:"msg"`
		Code int    `json:"code"`
	} `json:"error"`
}

// call performs one provider request and decodes the result into out (when non-nil).
func (c *Client) call(ctx context.Context, method string, creds Credentials, params url.Values, out any) error {
	if !creds.valid() {
		return fmt.Errorf("telephony: %s: missing credentials", method)
	}
	if params == nil {
		params = url.Values{}
	}
	creds.apply(params)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		providerRequestsCounter.WithLabelValues(method, "transport_error").Inc()
		return fmt.Errorf("%w: %s: rate limiter: %v", ErrTransport, method, err)
	}

	timer := prometheus.NewTimer(providerRequestDurationHist.WithLabelValues(method))
	defer timer.ObserveDuration()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewBufferString(params.Encode()))
	if err != nil {
		return fmt.Errorf("telephony: %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		providerRequestsCounter.WithLabelValues(method, "transport_error").Inc()
		return fmt.Errorf("%w: %s: %v", ErrTransport, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		providerRequestsCounter.WithLabelValues(method, "transport_error").Inc()
		return fmt.Errorf("%w: %s: read body: %v", ErrTransport, method, err)
	}
	logger.From(ctx).DebugContext(ctx, "provider call",
		"method", method,
		"http_status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	apiErr := decodeEnvelope(method, resp.StatusCode, body, out)
	if apiErr != nil {
		providerRequestsCounter.WithLabelValues(method, "api_error").Inc()
		return apiErr
	}
	providerRequestsCounter.WithLabelValues(method, "ok").Inc()
	return nil
}

func decodeEnvelope(method string, status int, body []byte, out any) *APIError {
	var env envelope
	parseErr := json.Unmarshal(body, &env)

	if parseErr == nil && env.Error != nil {
		msg := env.Error.Msg
		if msg == "" {
			msg = "unspecified provider error"
		}
		return &APIError{Method: method, HTTPStatus: status, Code: env.Error.Code, Msg: msg}
	}
	if status < 200 || status > 299 {
		return &APIError{Method: method, HTTPStatus: status, Msg: snippet(body)}
	}
	if parseErr != nil {
		return &APIError{Method: method, HTTPStatus: status, Msg: "unparsable response: " + snippet(body)}
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return &APIError{Method: method, HTTPStatus: status, Msg: "response has no result"}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &APIError{Method: method, HTTPStatus: status, Msg: "unexpected result shape: " + err.Error()}
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "empty response body"
	}
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
