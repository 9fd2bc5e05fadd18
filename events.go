package x402

import "time"

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	// PaymentEventAttempt is emitted after a payment is signed, before the retry is sent.
	PaymentEventAttempt PaymentEventType = "attempt"

	// PaymentEventSuccess is emitted when the retried request returns a settlement receipt.
	PaymentEventSuccess PaymentEventType = "success"

	// PaymentEventFailure is emitted when signing fails or the paid retry is rejected.
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent describes one step of a client payment.
type PaymentEvent struct {
	Type      PaymentEventType
	Timestamp time.Time

	// URL is the resource being paid for.
	URL string

	// Amount is the payment amount in atomic units.
	Amount string

	Asset     string
	Network   string
	Scheme    string
	Recipient string

	// Payer is the wallet address, or the receipt's payer on success.
	Payer string

	// Transaction is set on success when the server returned a receipt.
	Transaction string

	// Error is set on failure.
	Error error

	// Duration is measured from the first 402 to this event.
	Duration time.Duration
}

// PaymentCallback handles payment events. Callbacks run synchronously on the
// request goroutine and should return quickly.
type PaymentCallback func(PaymentEvent)
