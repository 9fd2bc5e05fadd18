// Package svm builds partially signed SPL token transfers for Solana networks.
// The facilitator named in extra.feePayer pays fees and adds the final signature.
package svm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/meterline/x402-gate"
)

// Signer adds the payer's signature to a transaction without touching any
// other signature slot.
type Signer interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// KeypairSigner signs with an in-process ed25519 key.
type KeypairSigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
}

// SignerOption configures a KeypairSigner.
type SignerOption func(*KeypairSigner) error

// NewKeypairSigner creates a signer from exactly one key source option.
func NewKeypairSigner(opts ...SignerOption) (*KeypairSigner, error) {
	s := &KeypairSigner{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if len(s.privateKey) == 0 {
		return nil, x402.ErrInvalidKey
	}

	s.publicKey = s.privateKey.PublicKey()
	return s, nil
}

// WithPrivateKey sets the private key from a base58 string.
func WithPrivateKey(base58Key string) SignerOption {
	return func(s *KeypairSigner) error {
		privateKey, err := solana.PrivateKeyFromBase58(base58Key)
		if err != nil {
			return x402.ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// WithKeygenFile loads a private key from a solana-keygen JSON file.
func WithKeygenFile(path string) SignerOption {
	return func(s *KeypairSigner) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %v", x402.ErrInvalidKeystore, err)
		}

		// JSON array format: [1, 2, 3, ...]
		var keyBytes []int
		if err := json.Unmarshal(data, &keyBytes); err != nil {
			return fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKeystore)
		}
		if len(keyBytes) != 64 {
			return fmt.Errorf("%w: invalid key length", x402.ErrInvalidKeystore)
		}

		key := make([]byte, len(keyBytes))
		for i, b := range keyBytes {
			if b < 0 || b > 255 {
				return fmt.Errorf("%w: byte %d out of range", x402.ErrInvalidKeystore, i)
			}
			key[i] = byte(b)
		}

		s.privateKey = solana.PrivateKey(key)
		return nil
	}
}

// PublicKey implements Signer.
func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.publicKey
}

// SignTransaction implements Signer. It places the signature at the signer's
// account index and leaves every other slot as it was, so the fee payer slot
// stays empty.
func (s *KeypairSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := s.privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(s.publicKey)
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}
	if int(accountIndex) >= int(tx.Message.Header.NumRequiredSignatures) {
		return fmt.Errorf("account %s is not a required signer", s.publicKey)
	}

	if len(tx.Signatures) < int(tx.Message.Header.NumRequiredSignatures) {
		signatures := make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
		copy(signatures, tx.Signatures)
		tx.Signatures = signatures
	}
	tx.Signatures[accountIndex] = signature
	return nil
}
