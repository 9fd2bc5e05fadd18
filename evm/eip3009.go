// Package evm builds EIP-3009 transferWithAuthorization payments for EVM networks.
package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/meterline/x402-gate"
)

// PrimaryType is the EIP-712 primary type signed by every authorization.
const PrimaryType = "TransferWithAuthorization"

// Authorization represents the parameters for EIP-3009 transferWithAuthorization.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       common.Hash
}

// Wire converts the authorization to its JSON envelope form.
func (a *Authorization) Wire() x402.EVMAuthorization {
	return x402.EVMAuthorization{
		From:        a.From.Hex(),
		To:          a.To.Hex(),
		Value:       a.Value.String(),
		ValidAfter:  a.ValidAfter.String(),
		ValidBefore: a.ValidBefore.String(),
		Nonce:       a.Nonce.Hex(),
	}
}

// Domain is the EIP-712 domain of a token contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// TypedData builds the EIP-712 typed data for an authorization.
func TypedData(domain Domain, auth *Authorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			PrimaryType: []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       auth.Nonce.Hex(),
		},
	}
}

// Digest computes keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func Digest(typedData apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// RecoverAddress returns the address that produced a 0x-prefixed 65-byte
// signature over the typed data.
func RecoverAddress(typedData apitypes.TypedData, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: signature is not hex", x402.ErrInvalidAuthorization)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes, got %d", x402.ErrInvalidAuthorization, crypto.SignatureLength, len(sig))
	}

	digest, err := Digest(typedData)
	if err != nil {
		return common.Address{}, err
	}

	// Undo the 27/28 Ethereum v offset.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", x402.ErrInvalidAuthorization, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// NewNonce reads a 32-byte nonce from r.
func NewNonce(r io.Reader) (common.Hash, error) {
	var nonce [32]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(nonce[:]), nil
}

// randomNonce generates a cryptographically secure 32-byte random nonce.
func randomNonce() (common.Hash, error) {
	return NewNonce(rand.Reader)
}
