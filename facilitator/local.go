package facilitator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/svm"
	"github.com/meterline/x402-gate/validation"
)

// Local stands in for a facilitator in test mode. It checks that a payment is
// structurally complete and settles it without touching any chain. It must
// never be used in production; config.Validate rejects test mode there.
type Local struct {
	feePayers map[string]string
	now       func() time.Time
	logger    *slog.Logger
}

// LocalOption configures a Local facilitator.
type LocalOption func(*Local)

// WithLocalClock sets the clock settlement ids are derived from.
func WithLocalClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		l.now = now
	}
}

// WithLocalFeePayers sets the fee payers Supported advertises per Solana network.
func WithLocalFeePayers(feePayers map[string]string) LocalOption {
	return func(l *Local) {
		l.feePayers = feePayers
	}
}

// WithLocalLogger sets the logger. Defaults to slog.Default().
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) {
		l.logger = logger
	}
}

// NewLocal creates a test-mode facilitator.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Verify accepts any payment whose envelope is well formed, matches the
// requirement's scheme and network and carries a non-empty proof.
func (l *Local) Verify(_ context.Context, payment x402.PaymentPayload, _ string, requirement x402.PaymentRequirement) (*VerifyResponse, error) {
	if err := validation.ValidatePaymentPayload(payment); err != nil {
		return &VerifyResponse{InvalidReason: err.Error()}, nil
	}
	if payment.Scheme != requirement.Scheme || payment.Network != requirement.Network {
		return &VerifyResponse{InvalidReason: "scheme/network not accepted"}, nil
	}
	if reason := validation.ValidateProof(payment); reason != "" {
		return &VerifyResponse{InvalidReason: reason}, nil
	}

	return &VerifyResponse{IsValid: true, Payer: Payer(payment)}, nil
}

// Settle returns a settlement id of the form "test-<unix millis>".
func (l *Local) Settle(ctx context.Context, payment x402.PaymentPayload, header string, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	verified, err := l.Verify(ctx, payment, header, requirement)
	if err != nil {
		return nil, err
	}
	if !verified.IsValid {
		return &x402.SettlementResponse{
			Success:     false,
			ErrorReason: verified.InvalidReason,
			Network:     payment.Network,
		}, nil
	}

	settlement := &x402.SettlementResponse{
		Success:     true,
		Transaction: fmt.Sprintf("test-%d", l.now().UnixMilli()),
		Network:     payment.Network,
		Payer:       verified.Payer,
	}
	l.logger.Warn("test mode settlement, no funds moved",
		"network", settlement.Network,
		"payer", settlement.Payer,
		"transaction", settlement.Transaction)
	return settlement, nil
}

// Supported lists the exact scheme on every registered network.
func (l *Local) Supported(context.Context) (*SupportedResponse, error) {
	resp := &SupportedResponse{}
	for _, network := range x402.Networks() {
		kind := SupportedKind{X402Version: x402.X402Version, Scheme: x402.SchemeExact, Network: network}
		if feePayer, ok := l.feePayers[network]; ok {
			kind.Extra = map[string]any{"feePayer": feePayer}
		}
		resp.Kinds = append(resp.Kinds, kind)
	}
	return resp, nil
}

// Payer reads the paying account from the proof, or "" when it cannot be read.
func Payer(payment x402.PaymentPayload) string {
	switch x402.FamilyOf(payment.Network) {
	case x402.NetworkFamilyEVM:
		evmPayload, err := payment.EVM()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(evmPayload.Authorization.From)
	case x402.NetworkFamilySVM:
		svmPayload, err := payment.SVM()
		if err != nil {
			return ""
		}
		payer, err := svm.PayerFromTransaction(svmPayload.Transaction)
		if err != nil {
			return ""
		}
		return payer.String()
	default:
		return ""
	}
}
