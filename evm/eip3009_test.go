package evm

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/meterline/x402-gate"
)

func testAuthorization() *Authorization {
	return &Authorization{
		From:        common.HexToAddress(testAddress),
		To:          common.HexToAddress("0x209693Bc6afc0C5328bA36FaF03C514EF312287C"),
		Value:       big.NewInt(500),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(1740672154),
		Nonce:       common.HexToHash("0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480"),
	}
}

func TestTypedDataShape(t *testing.T) {
	td := TypedData(Domain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(8453),
		VerifyingContract: common.HexToAddress(x402.BaseMainnet.USDCAddress),
	}, testAuthorization())

	if td.PrimaryType != "TransferWithAuthorization" {
		t.Errorf("PrimaryType = %s", td.PrimaryType)
	}
	if len(td.Types[PrimaryType]) != 6 {
		t.Errorf("expected 6 struct fields, got %d", len(td.Types[PrimaryType]))
	}
	if td.Domain.Name != "USD Coin" || td.Domain.Version != "2" {
		t.Errorf("domain name/version not carried: %+v", td.Domain)
	}
	if !strings.EqualFold(td.Domain.VerifyingContract, x402.BaseMainnet.USDCAddress) {
		t.Errorf("verifyingContract = %s", td.Domain.VerifyingContract)
	}
}

func TestDigestDependsOnDomain(t *testing.T) {
	auth := testAuthorization()
	base := Domain{Name: "USDC", Version: "2", ChainID: big.NewInt(84532), VerifyingContract: common.HexToAddress(x402.BaseSepolia.USDCAddress)}

	d1, err := Digest(TypedData(base, auth))
	if err != nil {
		t.Fatalf("Digest() error: %v", err)
	}
	if len(d1) != 32 {
		t.Fatalf("digest length = %d", len(d1))
	}

	renamed := base
	renamed.Name = "USD Coin"
	d2, err := Digest(TypedData(renamed, auth))
	if err != nil {
		t.Fatalf("Digest() error: %v", err)
	}
	if bytes.Equal(d1, d2) {
		t.Error("a different domain name must change the digest")
	}

	again, _ := Digest(TypedData(base, auth))
	if !bytes.Equal(d1, again) {
		t.Error("digest must be deterministic")
	}
}

func TestRecoverAddressErrors(t *testing.T) {
	td := TypedData(Domain{Name: "USDC", Version: "2", ChainID: big.NewInt(84532)}, testAuthorization())

	for _, sig := range []string{"0xzz", "0x1234", ""} {
		if _, err := RecoverAddress(td, sig); !errors.Is(err, x402.ErrInvalidAuthorization) {
			t.Errorf("RecoverAddress(%q) error = %v, want ErrInvalidAuthorization", sig, err)
		}
	}
}

func TestNewNonce(t *testing.T) {
	nonce, err := NewNonce(bytes.NewReader(bytes.Repeat([]byte{0xab}, 32)))
	if err != nil {
		t.Fatalf("NewNonce() error: %v", err)
	}
	if nonce.Hex() != "0x"+strings.Repeat("ab", 32) {
		t.Errorf("nonce = %s", nonce.Hex())
	}

	if _, err := NewNonce(bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Error("expected error for short reader")
	}
}

func TestRandomNonceDistinct(t *testing.T) {
	seen := make(map[common.Hash]bool)
	for i := 0; i < 64; i++ {
		n, err := randomNonce()
		if err != nil {
			t.Fatalf("randomNonce() error: %v", err)
		}
		if seen[n] {
			t.Fatalf("duplicate nonce %s", n.Hex())
		}
		seen[n] = true
	}
}
