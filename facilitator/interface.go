// Package facilitator talks to the service that verifies and settles x402
// payments on chain. Client speaks the HTTP facilitator protocol; Local is an
// in-process stand-in for test mode that only checks payment structure.
package facilitator

import (
	"context"

	"github.com/meterline/x402-gate"
)

// Interface defines the facilitator contract the gate relies on.
type Interface interface {
	// Verify checks a payment against a requirement without moving funds.
	// header is the raw X-PAYMENT value the payment was decoded from.
	Verify(ctx context.Context, payment x402.PaymentPayload, header string, requirement x402.PaymentRequirement) (*VerifyResponse, error)

	// Settle executes a verified payment on chain.
	Settle(ctx context.Context, payment x402.PaymentPayload, header string, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error)

	// Supported lists the payment kinds the facilitator accepts.
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// VerifyResponse contains the payment verification result from the facilitator.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SupportedKind describes a supported payment type with its configuration.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse lists all payment types supported by the facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// FeePayers returns the fee payer advertised for each Solana network.
func (r *SupportedResponse) FeePayers() map[string]string {
	out := make(map[string]string)
	for _, kind := range r.Kinds {
		if kind.Scheme != x402.SchemeExact || x402.FamilyOf(kind.Network) != x402.NetworkFamilySVM {
			continue
		}
		if feePayer, ok := kind.Extra["feePayer"].(string); ok && feePayer != "" {
			out[kind.Network] = feePayer
		}
	}
	return out
}
