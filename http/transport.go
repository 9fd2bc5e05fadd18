package http

import (
	"log/slog"
	"net/http"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/wallet"
)

// DefaultMaxRetries is the number of paid retries made for one request.
const DefaultMaxRetries = 1

// X402Transport is a RoundTripper that answers 402 Payment Required responses
// by paying from Wallet and resending the request.
type X402Transport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Wallet pays for requests. Options on networks outside its family are ignored.
	Wallet wallet.Wallet

	// Chooser picks among the compatible options. Defaults to x402.FirstCompatible.
	Chooser x402.RequirementChooser

	// MaxRetries bounds the paid retries per request. Zero means DefaultMaxRetries.
	MaxRetries int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnPaymentAttempt is called after a payment is signed.
	OnPaymentAttempt x402.PaymentCallback

	// OnPaymentSuccess is called when a paid retry is accepted.
	OnPaymentSuccess x402.PaymentCallback

	// OnPaymentFailure is called when signing or a paid retry fails.
	OnPaymentFailure x402.PaymentCallback
}

// RoundTrip implements http.RoundTripper. The request body is buffered so it
// can be replayed on the paid retry.
func (t *X402Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	d, err := newDriver(t, req)
	if err != nil {
		return nil, err
	}
	return d.run()
}

func (t *X402Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *X402Transport) chooser() x402.RequirementChooser {
	if t.Chooser == nil {
		return x402.FirstCompatible{}
	}
	return t.Chooser
}

func (t *X402Transport) maxRetries() int {
	if t.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return t.MaxRetries
}

func (t *X402Transport) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

func (t *X402Transport) emit(eventType x402.PaymentEventType, event x402.PaymentEvent) {
	event.Type = eventType

	var callback x402.PaymentCallback
	switch eventType {
	case x402.PaymentEventAttempt:
		callback = t.OnPaymentAttempt
	case x402.PaymentEventSuccess:
		callback = t.OnPaymentSuccess
	case x402.PaymentEventFailure:
		callback = t.OnPaymentFailure
	}
	if callback != nil {
		callback(event)
	}
}
