package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/meterline/x402-gate"
)

// Builder turns a payment requirement into a signed EIP-3009 authorization.
type Builder struct {
	signer TypedDataSigner
	now    func() time.Time
	nonce  func() (common.Hash, error)
	logger *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClock replaces time.Now when computing validBefore.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// WithNonceSource replaces the crypto/rand nonce generator.
func WithNonceSource(nonce func() (common.Hash, error)) BuilderOption {
	return func(b *Builder) {
		b.nonce = nonce
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a builder that signs with signer.
func NewBuilder(signer TypedDataSigner, opts ...BuilderOption) *Builder {
	b := &Builder{
		signer: signer,
		now:    time.Now,
		nonce:  randomNonce,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Address returns the paying account.
func (b *Builder) Address() common.Address {
	return b.signer.Address()
}

// Build signs an authorization for requirement on the chain with chainID.
//
// The authorization is valid from 0 until now + MaxTimeoutSeconds and carries a
// fresh 32-byte nonce. The signer is called once; a signer error ends the
// attempt. The returned authorization is exactly the one that was signed.
func (b *Builder) Build(ctx context.Context, requirement *x402.PaymentRequirement, chainID *big.Int) (*x402.EVMPayload, error) {
	name, okName := requirement.ExtraString("name")
	version, okVersion := requirement.ExtraString("version")
	if !okName || !okVersion {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements,
			"requirement is missing the EIP-712 domain name or version in extra", x402.ErrInvalidRequirements).
			WithDetails("network", requirement.Network)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "chain id is required", x402.ErrInvalidNetwork).
			WithDetails("network", requirement.Network)
	}
	if !common.IsHexAddress(requirement.PayTo) || !common.IsHexAddress(requirement.Asset) {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "payTo and asset must be EVM addresses", x402.ErrInvalidRequirements).
			WithDetails("payTo", requirement.PayTo).
			WithDetails("asset", requirement.Asset)
	}

	value, ok := new(big.Int).SetString(requirement.MaxAmountRequired, 10)
	if !ok || value.Sign() < 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "invalid amount in requirements", x402.ErrInvalidAmount).
			WithDetails("amount", requirement.MaxAmountRequired)
	}

	nonce, err := b.nonce()
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to generate nonce", err)
	}

	auth := &Authorization{
		From:        b.signer.Address(),
		To:          common.HexToAddress(requirement.PayTo),
		Value:       value,
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(b.now().Unix() + int64(requirement.MaxTimeoutSeconds)),
		Nonce:       nonce,
	}

	typedData := TypedData(Domain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(requirement.Asset),
	}, auth)

	signature, err := b.signer.SignTypedData(ctx, typedData)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign authorization",
			fmt.Errorf("%w: %w", x402.ErrSigningFailed, err)).
			WithDetails("network", requirement.Network)
	}

	b.logger.Debug("signed transfer authorization",
		"network", requirement.Network,
		"from", auth.From.Hex(),
		"value", auth.Value.String(),
		"valid_before", auth.ValidBefore.String())

	return &x402.EVMPayload{
		Signature:     "0x" + hex.EncodeToString(signature),
		Authorization: auth.Wire(),
	}, nil
}
