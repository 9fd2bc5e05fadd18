package x402

import (
	"encoding/json"
	"fmt"
)

// X402Version is the protocol version carried by every envelope and challenge.
const X402Version = 1

// SchemeExact is the fixed-amount, fixed-asset payment scheme.
const SchemeExact = "exact"

// Header names used on the wire.
const (
	// PaymentHeader carries the base64 JSON payment envelope on the request.
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the base64 JSON settlement receipt on the response.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"

	// PaymentRequiredHeader flags a 402 challenge. Its value is always "true".
	PaymentRequiredHeader = "X-Payment-Required"
)

// PaymentRequirement represents a single payment option from a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base-sepolia", "solana-devnet").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic units of the asset.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Resource identifies the priced endpoint. It is never parsed.
	Resource string `json:"resource"`

	// Description is a human-readable payment purpose shown by wallets.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds is the validity period for the payment authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Asset is the token contract address (EVM) or mint address (Solana).
	Asset string `json:"asset"`

	// Extra contains network-family specific data: the EIP-712 domain name and
	// version for EVM, the fee payer for Solana.
	Extra map[string]any `json:"extra,omitempty"`
}

// ExtraString returns the string value stored under key in Extra.
func (r *PaymentRequirement) ExtraString(key string) (string, bool) {
	if r.Extra == nil {
		return "", false
	}
	v, ok := r.Extra[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// PaymentRequirementsResponse represents the complete 402 response body.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable reason for the challenge.
	Error string `json:"error,omitempty"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// PaymentPayload is the signed envelope sent in the X-PAYMENT header.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier.
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Payload holds the chain-specific signed data as raw JSON so it is
	// forwarded to the facilitator exactly as the client produced it.
	// For EVM it decodes into EVMPayload, for Solana into SVMPayload.
	Payload json.RawMessage `json:"payload"`
}

// NewPaymentPayload wraps a chain-specific payload in an envelope for the given requirement.
func NewPaymentPayload(requirement *PaymentRequirement, payload any) (*PaymentPayload, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &PaymentPayload{
		X402Version: X402Version,
		Scheme:      requirement.Scheme,
		Network:     requirement.Network,
		Payload:     raw,
	}, nil
}

// EVM decodes the payload as an EIP-3009 authorization.
func (p *PaymentPayload) EVM() (*EVMPayload, error) {
	var out EVMPayload
	if err := json.Unmarshal(p.Payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAuthorization, err)
	}
	return &out, nil
}

// SVM decodes the payload as a partially signed Solana transaction.
func (p *PaymentPayload) SVM() (*SVMPayload, error) {
	var out SVMPayload
	if err := json.Unmarshal(p.Payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAuthorization, err)
	}
	return &out, nil
}

// EVMPayload represents an EVM payment with EIP-3009 authorization.
type EVMPayload struct {
	// Signature is the hex-encoded ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the EIP-3009 transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string. It is the only replay protection.
	Nonce string `json:"nonce"`
}

// SVMPayload represents a Solana payment with a partially signed transaction.
type SVMPayload struct {
	// Transaction is the base64-encoded transaction. The payer's signature is
	// present; the fee payer slot is left empty for the facilitator.
	Transaction string `json:"transaction"`
}

// SettlementResponse is the receipt produced after a payment settles.
// It is serialized into the X-PAYMENT-RESPONSE header and never mutated afterward.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides details if the payment failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the transaction hash (EVM) or signature (Solana).
	Transaction string `json:"transaction"`

	// Network echoes the requirement's network.
	Network string `json:"network"`

	// Payer is the address that made the payment, when known.
	Payer string `json:"payer,omitempty"`
}
