package evm

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/meterline/x402-gate"
)

// recordingSigner wraps a signer and keeps every typed data it was asked to sign.
type recordingSigner struct {
	inner TypedDataSigner
	calls []apitypes.TypedData
	err   error
}

func (r *recordingSigner) Address() common.Address { return r.inner.Address() }

func (r *recordingSigner) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	r.calls = append(r.calls, td)
	if r.err != nil {
		return nil, r.err
	}
	return r.inner.SignTypedData(ctx, td)
}

func newRecordingSigner(t *testing.T) *recordingSigner {
	t.Helper()
	key, err := NewKeySigner(WithPrivateKey(testPrivateKeyHex))
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return &recordingSigner{inner: key}
}

func testRequirement() *x402.PaymentRequirement {
	return &x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           "base-sepolia",
		MaxAmountRequired: "500",
		Resource:          "/api/quote",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 60,
		Asset:             x402.BaseSepolia.USDCAddress,
		Extra:             map[string]any{"name": "USDC", "version": "2"},
	}
}

func TestBuilderBuild(t *testing.T) {
	signer := newRecordingSigner(t)
	fixed := time.Unix(1_700_000_000, 0)
	builder := NewBuilder(signer, WithClock(func() time.Time { return fixed }))

	payload, err := builder.Build(context.Background(), testRequirement(), x402.BaseSepolia.ChainID)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if len(signer.calls) != 1 {
		t.Fatalf("signer called %d times, want 1", len(signer.calls))
	}

	auth := payload.Authorization
	if auth.ValidAfter != "0" {
		t.Errorf("validAfter = %s, want 0", auth.ValidAfter)
	}
	if auth.ValidBefore != "1700000060" {
		t.Errorf("validBefore = %s, want 1700000060", auth.ValidBefore)
	}
	if auth.Value != "500" {
		t.Errorf("value = %s, want 500", auth.Value)
	}
	if !strings.EqualFold(auth.From, testAddress) {
		t.Errorf("from = %s, want %s", auth.From, testAddress)
	}
	if !strings.EqualFold(auth.To, testRequirement().PayTo) {
		t.Errorf("to = %s", auth.To)
	}
	if len(strings.TrimPrefix(auth.Nonce, "0x")) != 64 {
		t.Errorf("nonce %s is not 32 bytes", auth.Nonce)
	}

	td := signer.calls[0]
	if td.Domain.Name != "USDC" || td.Domain.Version != "2" {
		t.Errorf("domain = %+v", td.Domain)
	}
	if (*big.Int)(td.Domain.ChainId).Int64() != 84532 {
		t.Errorf("chainId = %v", td.Domain.ChainId)
	}
	if !strings.EqualFold(td.Domain.VerifyingContract, x402.BaseSepolia.USDCAddress) {
		t.Errorf("verifyingContract = %s", td.Domain.VerifyingContract)
	}
	if td.Message["nonce"] != auth.Nonce || td.Message["from"] != auth.From || td.Message["to"] != auth.To {
		t.Error("transmitted authorization differs from the signed message")
	}

	recovered, err := RecoverAddress(td, payload.Signature)
	if err != nil {
		t.Fatalf("RecoverAddress() error: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("signature recovers to %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestBuilderNoncesDistinct(t *testing.T) {
	builder := NewBuilder(newRecordingSigner(t))

	seen := make(map[string]bool)
	for i := 0; i < 16; i++ {
		payload, err := builder.Build(context.Background(), testRequirement(), x402.BaseSepolia.ChainID)
		if err != nil {
			t.Fatalf("Build() error: %v", err)
		}
		if seen[payload.Authorization.Nonce] {
			t.Fatalf("nonce reused: %s", payload.Authorization.Nonce)
		}
		seen[payload.Authorization.Nonce] = true
	}
}

func TestBuilderInjectedNonce(t *testing.T) {
	want := common.HexToHash("0x01")
	builder := NewBuilder(newRecordingSigner(t), WithNonceSource(func() (common.Hash, error) { return want, nil }))

	payload, err := builder.Build(context.Background(), testRequirement(), x402.BaseSepolia.ChainID)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if payload.Authorization.Nonce != want.Hex() {
		t.Errorf("nonce = %s, want %s", payload.Authorization.Nonce, want.Hex())
	}
}

func TestBuilderSignerRejection(t *testing.T) {
	signer := newRecordingSigner(t)
	signer.err = errors.New("user rejected request")
	builder := NewBuilder(signer)

	_, err := builder.Build(context.Background(), testRequirement(), x402.BaseSepolia.ChainID)

	var pe *x402.PaymentError
	if !errors.As(err, &pe) || pe.Code != x402.ErrCodeSigningFailed {
		t.Fatalf("expected SIGNING_FAILED, got %v", err)
	}
	if !errors.Is(err, x402.ErrSigningFailed) {
		t.Error("error should match ErrSigningFailed")
	}
	if len(signer.calls) != 1 {
		t.Errorf("signer called %d times, want exactly 1", len(signer.calls))
	}
}

func TestBuilderInvalidRequirements(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*x402.PaymentRequirement)
		chainID *big.Int
		wantErr error
	}{
		{"missing extra", func(r *x402.PaymentRequirement) { r.Extra = nil }, x402.BaseSepolia.ChainID, x402.ErrInvalidRequirements},
		{"missing version", func(r *x402.PaymentRequirement) { delete(r.Extra, "version") }, x402.BaseSepolia.ChainID, x402.ErrInvalidRequirements},
		{"bad amount", func(r *x402.PaymentRequirement) { r.MaxAmountRequired = "1.5" }, x402.BaseSepolia.ChainID, x402.ErrInvalidAmount},
		{"negative amount", func(r *x402.PaymentRequirement) { r.MaxAmountRequired = "-1" }, x402.BaseSepolia.ChainID, x402.ErrInvalidAmount},
		{"solana payTo", func(r *x402.PaymentRequirement) { r.PayTo = "2wKupLR9q6wXYppw8Gr2NvWxKBUqm4PPJKkQfoxHDBg4" }, x402.BaseSepolia.ChainID, x402.ErrInvalidRequirements},
		{"nil chain id", func(r *x402.PaymentRequirement) {}, nil, x402.ErrInvalidNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := newRecordingSigner(t)
			req := testRequirement()
			tt.mutate(req)

			_, err := NewBuilder(signer).Build(context.Background(), req, tt.chainID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(signer.calls) != 0 {
				t.Error("signer must not be called for invalid requirements")
			}
		})
	}
}
