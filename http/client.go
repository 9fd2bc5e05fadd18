package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/encoding"
	"github.com/meterline/x402-gate/wallet"
)

// Client is an HTTP client that automatically handles x402 payment flows.
// It wraps a standard http.Client and adds payment handling via X402Transport.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a new x402-enabled HTTP client.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		Client: &http.Client{},
	}

	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}

	getOrCreateTransport(client)
	return client, nil
}

// WithHTTPClient sets the underlying HTTP client. Its transport becomes the
// base of the payment transport.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		if httpClient == nil {
			return fmt.Errorf("http client is nil")
		}
		prev, _ := c.Transport.(*X402Transport)
		c.Client = httpClient
		if prev != nil {
			prev.Base = httpClient.Transport
			c.Transport = prev
		}
		return nil
	}
}

// WithWallet sets the wallet that pays for requests.
func WithWallet(w wallet.Wallet) ClientOption {
	return func(c *Client) error {
		if w.Family() == x402.NetworkFamilyUnknown {
			return x402.NewPaymentError(x402.ErrCodeNoCompatibleOption, "wallet has no network family", x402.ErrNoCompatibleOption)
		}
		getOrCreateTransport(c).Wallet = w
		return nil
	}
}

// WithChooser sets how a requirement is picked among compatible options.
func WithChooser(chooser x402.RequirementChooser) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).Chooser = chooser
		return nil
	}
}

// WithMaxRetries bounds the paid retries made for one request.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("max retries must be at least 1, got %d", n)
		}
		getOrCreateTransport(c).MaxRetries = n
		return nil
	}
}

// WithClientLogger sets the logger used by the payment transport.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).Logger = logger
		return nil
	}
}

// WithPaymentCallback sets a callback for a specific payment event type.
func WithPaymentCallback(eventType x402.PaymentEventType, callback x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)

		switch eventType {
		case x402.PaymentEventAttempt:
			transport.OnPaymentAttempt = callback
		case x402.PaymentEventSuccess:
			transport.OnPaymentSuccess = callback
		case x402.PaymentEventFailure:
			transport.OnPaymentFailure = callback
		default:
			return fmt.Errorf("unknown payment event type: %s", eventType)
		}
		return nil
	}
}

// WithPaymentCallbacks sets all payment callbacks at once.
// Pass nil for any callback you don't want to set.
func WithPaymentCallbacks(onAttempt, onSuccess, onFailure x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)

		if onAttempt != nil {
			transport.OnPaymentAttempt = onAttempt
		}
		if onSuccess != nil {
			transport.OnPaymentSuccess = onSuccess
		}
		if onFailure != nil {
			transport.OnPaymentFailure = onFailure
		}
		return nil
	}
}

func getOrCreateTransport(c *Client) *X402Transport {
	transport, ok := c.Transport.(*X402Transport)
	if !ok {
		transport = &X402Transport{Base: c.Transport}
		c.Transport = transport
	}
	return transport
}

// FetchWithPayment sends req, paying from w when the server answers 402.
func FetchWithPayment(ctx context.Context, w wallet.Wallet, req *http.Request, opts ...ClientOption) (*http.Response, error) {
	client, err := NewClient(append(opts, WithWallet(w))...)
	if err != nil {
		return nil, err
	}
	return client.Do(req.WithContext(ctx))
}

// GetSettlement extracts the settlement receipt from a response.
// Returns nil if the header is absent or does not decode.
func GetSettlement(resp *http.Response) *x402.SettlementResponse {
	header := resp.Header.Get(x402.PaymentResponseHeader)
	if header == "" {
		return nil
	}

	settlement, err := encoding.DecodeSettlement(header)
	if err != nil {
		return nil
	}
	return &settlement
}
