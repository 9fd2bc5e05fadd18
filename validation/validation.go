// Package validation performs structural checks on addresses, amounts,
// requirements and payment envelopes. It never touches the network.
package validation

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/meterline/x402-gate"
)

// Reasons reported by ValidateProof. They match the invalid reasons the
// envelope codec produces for the same defects.
const (
	ReasonMissingSignature   = "Missing signature in payload"
	ReasonMissingTransaction = "Missing transaction in payload"
)

// ValidateAmount validates that an amount string is a positive base-10 integer.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("%w: amount cannot be empty", x402.ErrInvalidAmount)
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("%w: invalid amount format: %s", x402.ErrInvalidAmount, amount)
	}
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be greater than 0, got: %s", x402.ErrInvalidAmount, amount)
	}
	return nil
}

// ValidateFamilyAddress validates an address for a network family. Config uses
// it for pay-to addresses that are not yet tied to a specific network.
func ValidateFamilyAddress(address string, family x402.NetworkFamily) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch family {
	case x402.NetworkFamilyEVM:
		if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
			return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
		}
		return nil

	case x402.NetworkFamilySVM:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid Solana address format: %s: %w", address, err)
		}
		return nil

	default:
		return fmt.Errorf("%w: cannot validate address for family %s", x402.ErrUnsupportedNetwork, family)
	}
}

// ValidateNetworks checks that every id is present in the network registry.
func ValidateNetworks(networks []string) error {
	if len(networks) == 0 {
		return fmt.Errorf("%w: no networks listed", x402.ErrUnsupportedNetwork)
	}
	for _, id := range networks {
		if _, err := x402.LookupNetwork(id); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePaymentRequirement checks a requirement the catalog or a server produced.
func ValidatePaymentRequirement(req x402.PaymentRequirement) error {
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	if req.Scheme != x402.SchemeExact {
		return fmt.Errorf("invalid requirement: %w: %q", x402.ErrUnsupportedScheme, req.Scheme)
	}

	chain, err := x402.LookupNetwork(req.Network)
	if err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	if err := ValidateFamilyAddress(req.PayTo, chain.Family); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}
	if err := ValidateFamilyAddress(req.Asset, chain.Family); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}
	if req.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid requirement: timeout must be positive: %d", req.MaxTimeoutSeconds)
	}

	switch chain.Family {
	case x402.NetworkFamilyEVM:
		if _, ok := req.ExtraString("name"); !ok {
			return fmt.Errorf("invalid requirement: EIP-3009 name cannot be empty")
		}
		if _, ok := req.ExtraString("version"); !ok {
			return fmt.Errorf("invalid requirement: EIP-3009 version cannot be empty")
		}
	case x402.NetworkFamilySVM:
		if feePayer, ok := req.ExtraString("feePayer"); ok {
			if err := ValidateFamilyAddress(feePayer, chain.Family); err != nil {
				return fmt.Errorf("invalid requirement: feePayer %w", err)
			}
		}
	}

	return nil
}

// ValidatePaymentPayload validates the envelope fields around the proof.
func ValidatePaymentPayload(payment x402.PaymentPayload) error {
	if payment.X402Version != x402.X402Version {
		return fmt.Errorf("%w: %d", x402.ErrUnsupportedVersion, payment.X402Version)
	}
	if payment.Scheme != x402.SchemeExact {
		return fmt.Errorf("%w: %q", x402.ErrUnsupportedScheme, payment.Scheme)
	}
	if _, err := x402.LookupNetwork(payment.Network); err != nil {
		return fmt.Errorf("invalid network: %w", err)
	}
	if len(payment.Payload) == 0 {
		return fmt.Errorf("payload cannot be empty")
	}
	return nil
}

// ValidateProof checks that the payload carries the proof its network family
// requires and returns the invalid reason when it does not. An empty reason
// means the proof is present.
func ValidateProof(payment x402.PaymentPayload) string {
	var proof struct {
		Signature   string `json:"signature"`
		Transaction string `json:"transaction"`
	}
	_ = json.Unmarshal(payment.Payload, &proof)

	switch x402.FamilyOf(payment.Network) {
	case x402.NetworkFamilySVM:
		if proof.Transaction == "" {
			return ReasonMissingTransaction
		}
	default:
		if proof.Signature == "" {
			return ReasonMissingSignature
		}
	}
	return ""
}
