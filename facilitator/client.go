package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/meterline/x402-gate"
)

// DefaultURL is the public x402 facilitator.
const DefaultURL = "https://x402.org/facilitator"

// RequestIDHeader carries the id the client assigns to each facilitator call.
const RequestIDHeader = "X-Request-Id"

// maxResponseBytes bounds how much of a facilitator response is read.
const maxResponseBytes = 1 << 20

// AuthorizationProvider returns the Authorization header value for a request to
// host and path. An empty value sends no header.
type AuthorizationProvider interface {
	Authorization(method, host, path string) (string, error)
}

// Client is an HTTP facilitator client.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	timeouts   x402.TimeoutConfig
	auth       AuthorizationProvider
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeouts sets the verify and settle timeouts. Defaults to x402.DefaultTimeouts.
func WithTimeouts(timeouts x402.TimeoutConfig) ClientOption {
	return func(c *Client) {
		c.timeouts = timeouts
	}
}

// WithAuthorization authenticates every request, e.g. with a CDPAuth.
func WithAuthorization(auth AuthorizationProvider) ClientOption {
	return func(c *Client) {
		c.auth = auth
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the facilitator at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid facilitator URL %q", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: http.DefaultClient,
		timeouts:   x402.DefaultTimeouts,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.timeouts.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// URL returns the facilitator base URL.
func (c *Client) URL() string {
	return c.baseURL.String()
}

// request is the body of /verify and /settle. Both the raw header and the
// decoded payload are sent so either generation of facilitator accepts it.
type request struct {
	X402Version         int                     `json:"x402Version"`
	PaymentHeader       string                  `json:"paymentHeader,omitempty"`
	PaymentPayload      x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

// settleWire accepts both the current and the legacy settle response fields.
type settleWire struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason"`
	Error       string `json:"error"`
	Transaction string `json:"transaction"`
	TxHash      string `json:"txHash"`
	Network     string `json:"network"`
	NetworkID   string `json:"networkId"`
	Payer       string `json:"payer"`
}

func (w settleWire) normalize() *x402.SettlementResponse {
	resp := &x402.SettlementResponse{
		Success:     w.Success,
		Transaction: w.Transaction,
		Network:     w.Network,
		Payer:       w.Payer,
	}
	if resp.Transaction == "" {
		resp.Transaction = w.TxHash
	}
	if resp.Network == "" {
		resp.Network = w.NetworkID
	}
	if !resp.Success {
		resp.ErrorReason = w.ErrorReason
		if resp.ErrorReason == "" {
			resp.ErrorReason = w.Error
		}
	}
	return resp
}

// Verify posts the payment to /verify.
//
// A response with isValid false is returned without error, also when the
// facilitator sends it with a 4xx status. Transport failures and 5xx responses
// wrap x402.ErrFacilitatorUnavailable.
func (c *Client) Verify(ctx context.Context, payment x402.PaymentPayload, header string, requirement x402.PaymentRequirement) (*VerifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.VerifyTimeout)
	defer cancel()

	status, body, err := c.post(ctx, "/verify", payment, header, requirement)
	if err != nil {
		return nil, err
	}

	var resp VerifyResponse
	decodeErr := json.Unmarshal(body, &resp)
	switch {
	case status == http.StatusOK && decodeErr == nil:
		return &resp, nil
	case status == http.StatusOK:
		return nil, fmt.Errorf("%w: failed to decode verify response: %w", x402.ErrVerificationFailed, decodeErr)
	case status < 500 && decodeErr == nil && resp.InvalidReason != "":
		resp.IsValid = false
		return &resp, nil
	case status >= 500:
		return nil, fmt.Errorf("%w: verify returned status %d", x402.ErrFacilitatorUnavailable, status)
	default:
		return nil, fmt.Errorf("%w: status %d", x402.ErrVerificationFailed, status)
	}
}

// Settle posts the payment to /settle. Legacy txHash, networkId and error
// fields are mapped onto the settlement response.
func (c *Client) Settle(ctx context.Context, payment x402.PaymentPayload, header string, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.SettleTimeout)
	defer cancel()

	status, body, err := c.post(ctx, "/settle", payment, header, requirement)
	if err != nil {
		return nil, err
	}

	var wire settleWire
	decodeErr := json.Unmarshal(body, &wire)
	switch {
	case status == http.StatusOK && decodeErr == nil:
		return wire.normalize(), nil
	case status == http.StatusOK:
		return nil, fmt.Errorf("%w: failed to decode settlement response: %w", x402.ErrSettlementFailed, decodeErr)
	case status < 500 && decodeErr == nil && (wire.ErrorReason != "" || wire.Error != ""):
		wire.Success = false
		return wire.normalize(), nil
	case status >= 500:
		return nil, fmt.Errorf("%w: settle returned status %d", x402.ErrFacilitatorUnavailable, status)
	default:
		return nil, fmt.Errorf("%w: status %d", x402.ErrSettlementFailed, status)
	}
}

// Supported queries /supported.
func (c *Client) Supported(ctx context.Context) (*SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.VerifyTimeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, http.MethodGet, "/supported", nil)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	if status >= 500 {
		return nil, fmt.Errorf("%w: supported returned status %d", x402.ErrFacilitatorUnavailable, status)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("supported endpoint failed: status %d", status)
	}

	var resp SupportedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode supported response: %w", err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, payment x402.PaymentPayload, header string, requirement x402.PaymentRequirement) (int, []byte, error) {
	data, err := json.Marshal(request{
		X402Version:         x402.X402Version,
		PaymentHeader:       header,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, path, data)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("facilitator request",
		"path", path,
		"network", payment.Network,
		"scheme", payment.Scheme,
		"request_id", httpReq.Header.Get(RequestIDHeader))

	return c.do(httpReq)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	endpoint := c.baseURL.JoinPath(path)
	// JoinPath leaves the path relative when the base URL has none.
	if !strings.HasPrefix(endpoint.Path, "/") {
		endpoint.Path = "/" + endpoint.Path
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set(RequestIDHeader, uuid.NewString())

	if c.auth != nil {
		value, err := c.auth.Authorization(method, endpoint.Host, endpoint.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to authorize facilitator request: %w", err)
		}
		if value != "" {
			httpReq.Header.Set("Authorization", value)
		}
	}
	return httpReq, nil
}

func (c *Client) do(httpReq *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", x402.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response: %w", x402.ErrFacilitatorUnavailable, err)
	}

	c.logger.Debug("facilitator response",
		"url", httpReq.URL.String(),
		"status", resp.StatusCode,
		"request_id", httpReq.Header.Get(RequestIDHeader))

	return resp.StatusCode, body, nil
}
