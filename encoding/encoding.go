// Package encoding provides utilities for encoding and decoding x402 payment data.
// It handles base64 and JSON marshaling for payment payloads, settlements, and requirements.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meterline/x402-gate"
)

// DecodeKind classifies why an X-PAYMENT header could not be decoded.
type DecodeKind int

const (
	// KindMalformedBase64 means the header is not valid standard base64.
	KindMalformedBase64 DecodeKind = iota + 1
	// KindMalformedJSON means the decoded bytes are not a JSON envelope.
	KindMalformedJSON
	// KindMissingField means a required envelope field is absent or empty.
	KindMissingField
)

func (k DecodeKind) String() string {
	switch k {
	case KindMalformedBase64:
		return "malformed_base64"
	case KindMalformedJSON:
		return "malformed_json"
	case KindMissingField:
		return "missing_field"
	default:
		return "unknown"
	}
}

// DecodeError reports a rejected payment envelope. It matches
// x402.ErrMalformedHeader under errors.Is.
type DecodeError struct {
	Kind DecodeKind

	// Field names the missing field for KindMissingField, using dotted paths
	// for nested fields (e.g., "payload.signature").
	Field string

	Err error
}

func (e *DecodeError) Error() string {
	msg := x402.ErrMalformedHeader.Error() + ": " + e.Kind.String()
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{x402.ErrMalformedHeader}
	}
	return []error{x402.ErrMalformedHeader, e.Err}
}

// InvalidReason returns the reason reported to the client in a rejected check.
func (e *DecodeError) InvalidReason() string {
	switch e.Kind {
	case KindMalformedBase64:
		return "Malformed payment header: invalid base64"
	case KindMalformedJSON:
		return "Malformed payment header: invalid JSON"
	case KindMissingField:
		switch e.Field {
		case "payload.signature":
			return "Missing signature in payload"
		case "payload.transaction":
			return "Missing transaction in payload"
		}
		return "Missing " + e.Field + " in payment header"
	default:
		return "Malformed payment header"
	}
}

// envelope mirrors x402.PaymentPayload with pointers so absent fields can be
// told apart from zero values.
type envelope struct {
	X402Version *int            `json:"x402Version"`
	Scheme      *string         `json:"scheme"`
	Network     *string         `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// EncodePayment converts a PaymentPayload to base64-encoded JSON string.
// This is used for HTTP X-PAYMENT headers and other transport encoding needs.
//
// Returns an error if JSON marshaling fails.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts a base64-encoded JSON string to PaymentPayload.
//
// Every rejection is a *DecodeError. The nested payload must carry a non-empty
// "signature" on EVM networks and "transaction" on Solana networks; for
// networks missing from the registry either one is accepted.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return payment, &DecodeError{Kind: KindMalformedBase64, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(decoded, &env); err != nil {
		return payment, &DecodeError{Kind: KindMalformedJSON, Err: err}
	}

	switch {
	case env.X402Version == nil:
		return payment, &DecodeError{Kind: KindMissingField, Field: "x402Version"}
	case env.Scheme == nil || *env.Scheme == "":
		return payment, &DecodeError{Kind: KindMissingField, Field: "scheme"}
	case env.Network == nil || *env.Network == "":
		return payment, &DecodeError{Kind: KindMissingField, Field: "network"}
	case len(env.Payload) == 0 || string(env.Payload) == "null":
		return payment, &DecodeError{Kind: KindMissingField, Field: "payload"}
	}

	var inner map[string]json.RawMessage
	if err := json.Unmarshal(env.Payload, &inner); err != nil {
		return payment, &DecodeError{Kind: KindMalformedJSON, Field: "payload", Err: err}
	}

	if field := missingProof(*env.Network, inner); field != "" {
		return payment, &DecodeError{Kind: KindMissingField, Field: field}
	}

	payment.X402Version = *env.X402Version
	payment.Scheme = *env.Scheme
	payment.Network = *env.Network
	payment.Payload = env.Payload
	return payment, nil
}

// missingProof returns the dotted name of the absent signature or transaction
// field, or "" when the payload carries the proof its network expects.
func missingProof(network string, inner map[string]json.RawMessage) string {
	has := func(key string) bool {
		var s string
		if err := json.Unmarshal(inner[key], &s); err != nil {
			return false
		}
		return s != ""
	}

	switch x402.FamilyOf(network) {
	case x402.NetworkFamilyEVM:
		if !has("signature") {
			return "payload.signature"
		}
	case x402.NetworkFamilySVM:
		if !has("transaction") {
			return "payload.transaction"
		}
	default:
		if !has("signature") && !has("transaction") {
			return "payload.signature"
		}
	}
	return ""
}

// EncodeSettlement converts a SettlementResponse to base64-encoded JSON string.
// This is used for HTTP X-PAYMENT-RESPONSE headers.
func EncodeSettlement(settlement x402.SettlementResponse) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts a base64-encoded JSON string to SettlementResponse.
func DecodeSettlement(encoded string) (x402.SettlementResponse, error) {
	var settlement x402.SettlementResponse

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return settlement, nil
}
