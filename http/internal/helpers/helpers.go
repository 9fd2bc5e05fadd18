// Package helpers provides the response writing shared by the stdlib, Gin,
// Chi and Echo adapters so that every framework answers identically.
package helpers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/encoding"
)

// DefaultChallengeReason is the error text of a challenge sent to a caller
// that presented no payment.
const DefaultChallengeReason = "X-PAYMENT header is required"

// ChallengeBody returns the 402 response body.
func ChallengeBody(requirements []x402.PaymentRequirement, reason string) x402.PaymentRequirementsResponse {
	if requirements == nil {
		requirements = []x402.PaymentRequirement{}
	}
	return x402.PaymentRequirementsResponse{
		X402Version: x402.X402Version,
		Error:       reason,
		Accepts:     requirements,
	}
}

// SetChallengeHeaders sets the headers every 402 challenge carries.
func SetChallengeHeaders(h http.Header) {
	h.Set("Content-Type", "application/json")
	h.Set(x402.PaymentRequiredHeader, "true")
}

// WriteChallenge sends a 402 Payment Required response listing requirements.
func WriteChallenge(w http.ResponseWriter, requirements []x402.PaymentRequirement, reason string) {
	SetChallengeHeaders(w.Header())
	w.WriteHeader(http.StatusPaymentRequired)
	// Headers are already sent; an encoding error cannot change the status.
	_ = json.NewEncoder(w).Encode(ChallengeBody(requirements, reason))
}

// ErrorBody is the JSON body of a non-402 gate error.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// NegotiationError maps a requirement-building failure to its response body.
func NegotiationError(err error) ErrorBody {
	body := ErrorBody{Error: err.Error()}
	var pe *x402.PaymentError
	if errors.As(err, &pe) {
		body.Code = string(pe.Code)
		body.Error = pe.Message
	}
	return body
}

// WriteNegotiationError sends a 500 when no payment option can be offered.
func WriteNegotiationError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(NegotiationError(err))
}

// SetSettlementHeader adds the base64 X-PAYMENT-RESPONSE header.
func SetSettlementHeader(h http.Header, settlement *x402.SettlementResponse) error {
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return err
	}
	h.Set(x402.PaymentResponseHeader, encoded)
	return nil
}

// WritePreflight answers an OPTIONS request with 204 and the CORS headers a
// browser needs before it can send X-PAYMENT. The protected handler never sees
// the request.
func WritePreflight(w http.ResponseWriter, r *http.Request) {
	SetPreflightHeaders(w.Header(), r)
	w.WriteHeader(http.StatusNoContent)
}

// SetPreflightHeaders sets the CORS headers of a preflight response.
func SetPreflightHeaders(h http.Header, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		h.Add("Vary", "Origin")
	}
	methods := r.Header.Get("Access-Control-Request-Method")
	if methods == "" {
		methods = "GET, POST"
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", methods)
	h.Set("Access-Control-Allow-Headers", "Content-Type, "+x402.PaymentHeader)
	h.Set("Access-Control-Expose-Headers", x402.PaymentResponseHeader)
}

// ResourceURL returns the absolute URL of the request, used as the resource
// identifier in requirements.
func ResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded == "https" || forwarded == "http" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
