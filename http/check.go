package http

import (
	"context"
	"errors"
	"fmt"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/encoding"
	"github.com/meterline/x402-gate/facilitator"
	"github.com/meterline/x402-gate/http/internal/helpers"
)

// Stage is how far a payment got through the check.
type Stage int

const (
	// StageNoPayment means no usable envelope was presented.
	StageNoPayment Stage = iota
	// StageDecoded means the envelope decoded but was not verified.
	StageDecoded
	// StageVerified means the facilitator verified the payment but it was not settled.
	StageVerified
	// StageSettled means the payment settled. It is the only valid outcome.
	StageSettled
)

func (s Stage) String() string {
	switch s {
	case StageNoPayment:
		return "no_payment"
	case StageDecoded:
		return "decoded"
	case StageVerified:
		return "verified"
	case StageSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Reasons reported by Check that do not come from the codec or facilitator.
const (
	ReasonNotAccepted            = "scheme/network not accepted"
	ReasonFacilitatorUnavailable = "facilitator unavailable"
	ReasonVerificationFailed     = "payment verification failed"
	ReasonSettlementFailed       = "payment settlement failed"
)

// CheckResult is the outcome of checking one X-PAYMENT header.
type CheckResult struct {
	Valid bool
	Stage Stage

	// Error is the reason the payment was rejected, suitable for the client.
	Error string

	// Err is set when the rejection comes from requirement negotiation rather
	// than from the payment, in which case no challenge can be offered.
	Err error

	Requirement *x402.PaymentRequirement
	Settlement  *x402.SettlementResponse
	Payer       string
}

// Check decodes header, matches it against the requirements for resource and
// route, then verifies and settles it with the facilitator. Neither facilitator
// call is retried. Only a settled payment is valid.
func (g *Gate) Check(ctx context.Context, header, resource string, route Route) CheckResult {
	if header == "" {
		return CheckResult{Stage: StageNoPayment, Error: helpers.DefaultChallengeReason}
	}

	payment, err := encoding.DecodePayment(header)
	if err != nil {
		var de *encoding.DecodeError
		if errors.As(err, &de) {
			return CheckResult{Stage: StageNoPayment, Error: de.InvalidReason()}
		}
		return CheckResult{Stage: StageNoPayment, Error: err.Error()}
	}

	if payment.X402Version != x402.X402Version {
		return CheckResult{Stage: StageDecoded, Error: fmt.Sprintf("Unsupported x402 version: %d", payment.X402Version)}
	}

	requirements, err := g.Requirements(resource, route)
	if err != nil {
		return CheckResult{Stage: StageDecoded, Error: err.Error(), Err: err}
	}

	requirement, ok := matchRequirement(payment, requirements)
	if !ok {
		return CheckResult{Stage: StageDecoded, Error: ReasonNotAccepted}
	}

	logger := g.logger.With("network", payment.Network, "scheme", payment.Scheme)

	verified, err := g.facilitator.Verify(ctx, payment, header, *requirement)
	if err != nil {
		logger.Error("facilitator verify failed", "error", err)
		return CheckResult{Stage: StageDecoded, Error: facilitatorReason(err, ReasonVerificationFailed), Requirement: requirement}
	}
	if !verified.IsValid {
		reason := verified.InvalidReason
		if reason == "" {
			reason = ReasonVerificationFailed
		}
		logger.Info("payment rejected", "reason", reason)
		return CheckResult{Stage: StageDecoded, Error: reason, Requirement: requirement, Payer: verified.Payer}
	}

	payer := verified.Payer
	if payer == "" {
		payer = facilitator.Payer(payment)
	}

	settlement, err := g.facilitator.Settle(ctx, payment, header, *requirement)
	if err != nil {
		logger.Error("facilitator settle failed", "payer", payer, "error", err)
		return CheckResult{Stage: StageVerified, Error: facilitatorReason(err, ReasonSettlementFailed), Requirement: requirement, Payer: payer}
	}
	if !settlement.Success {
		reason := settlement.ErrorReason
		if reason == "" {
			reason = ReasonSettlementFailed
		}
		logger.Warn("settlement unsuccessful", "payer", payer, "reason", reason)
		return CheckResult{Stage: StageVerified, Error: reason, Requirement: requirement, Settlement: settlement, Payer: payer}
	}

	if settlement.Payer == "" {
		settlement.Payer = payer
	}
	if settlement.Network == "" {
		settlement.Network = payment.Network
	}
	logger.Info("payment settled", "payer", payer, "transaction", settlement.Transaction)

	return CheckResult{
		Valid:       true,
		Stage:       StageSettled,
		Requirement: requirement,
		Settlement:  settlement,
		Payer:       payer,
	}
}

// matchRequirement finds the requirement with the payment's scheme and network.
func matchRequirement(payment x402.PaymentPayload, requirements []x402.PaymentRequirement) (*x402.PaymentRequirement, bool) {
	for i := range requirements {
		if requirements[i].Scheme == payment.Scheme && requirements[i].Network == payment.Network {
			return &requirements[i], true
		}
	}
	return nil, false
}

// facilitatorReason hides transport detail behind a generic reason.
func facilitatorReason(err error, fallback string) string {
	if isTransport(err) {
		return ReasonFacilitatorUnavailable
	}
	if err.Error() == "" {
		return fallback
	}
	return fmt.Sprintf("%s: %v", fallback, err)
}
