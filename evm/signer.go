package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/meterline/x402-gate"
)

// TypedDataSigner signs EIP-712 typed data on behalf of one account.
// Hardware wallets, remote signers and KeySigner all satisfy it.
type TypedDataSigner interface {
	// Address returns the account that signs.
	Address() common.Address

	// SignTypedData returns a 65-byte [R || S || V] signature with V in {27, 28}.
	SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)
}

// KeySigner signs with an in-process ECDSA private key.
type KeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// SignerOption configures a KeySigner.
type SignerOption func(*KeySigner) error

// NewKeySigner creates a signer from exactly one key source option.
func NewKeySigner(opts ...SignerOption) (*KeySigner, error) {
	s := &KeySigner{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, x402.ErrInvalidKey
	}

	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)
	return s, nil
}

// WithPrivateKey sets the private key from a hex string, with or without 0x.
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *KeySigner) error {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return x402.ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// WithECDSAKey sets an already parsed private key.
func WithECDSAKey(key *ecdsa.PrivateKey) SignerOption {
	return func(s *KeySigner) error {
		if key == nil {
			return x402.ErrInvalidKey
		}
		s.privateKey = key
		return nil
	}
}

// Address implements TypedDataSigner.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTypedData implements TypedDataSigner.
func (s *KeySigner) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := Digest(typedData)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}

	// Adjust v value for Ethereum (27 or 28)
	signature[64] += 27
	return signature, nil
}
