package x402

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMaxTimeoutSeconds is the authorization validity window offered when
// a Catalog does not set one.
const DefaultMaxTimeoutSeconds = 60

// DefaultMimeType is the content type advertised for protected resources.
const DefaultMimeType = "application/json"

// Catalog produces the payment requirements for a priced endpoint.
// It holds only immutable configuration and is safe for concurrent use.
type Catalog struct {
	// EVMPayTo receives payments on EVM networks. Empty disables EVM networks.
	EVMPayTo string

	// SolanaPayTo receives payments on Solana networks. Empty disables Solana networks.
	SolanaPayTo string

	// FeePayers maps a Solana network id to the facilitator account that pays
	// transaction fees. Networks without an entry are offered without extra.feePayer.
	FeePayers map[string]string

	// MaxTimeoutSeconds is the authorization validity window. Zero means DefaultMaxTimeoutSeconds.
	MaxTimeoutSeconds int

	// MimeType is the advertised content type. Empty means DefaultMimeType.
	MimeType string
}

// PayTo returns the recipient configured for a network family.
func (c *Catalog) PayTo(family NetworkFamily) string {
	switch family {
	case NetworkFamilyEVM:
		return c.EVMPayTo
	case NetworkFamilySVM:
		return c.SolanaPayTo
	default:
		return ""
	}
}

// BuildRequirements returns one requirement per listed network whose family has a
// pay-to address configured, in the order the networks are listed.
//
// Unknown networks and prices that floor to zero atomic units are errors;
// unconfigured families are skipped, so an empty result is not an error here. Calling it twice with the same inputs yields
// identical requirements, which is what lets the verifier recompute them.
func (c *Catalog) BuildRequirements(resource, description, price string, networks []string) ([]PaymentRequirement, error) {
	timeout := c.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultMaxTimeoutSeconds
	}
	mimeType := c.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	requirements := make([]PaymentRequirement, 0, len(networks))
	for _, network := range networks {
		chain, err := LookupNetwork(network)
		if err != nil {
			return nil, err
		}

		payTo := c.PayTo(chain.Family)
		if payTo == "" {
			continue
		}

		amount, err := ParsePrice(price, chain.Decimals)
		if err != nil {
			return nil, err
		}
		if amount.Sign() == 0 {
			return nil, fmt.Errorf("%w: price %q is below one atomic unit on %s", ErrInvalidAmount, price, chain.NetworkID)
		}

		req := PaymentRequirement{
			Scheme:            SchemeExact,
			Network:           chain.NetworkID,
			MaxAmountRequired: amount.String(),
			Resource:          resource,
			Description:       description,
			MimeType:          mimeType,
			PayTo:             payTo,
			MaxTimeoutSeconds: timeout,
			Asset:             chain.USDCAddress,
		}

		switch chain.Family {
		case NetworkFamilyEVM:
			req.Extra = map[string]any{
				"name":    chain.EIP3009Name,
				"version": chain.EIP3009Version,
			}
		case NetworkFamilySVM:
			if feePayer := c.FeePayers[chain.NetworkID]; feePayer != "" {
				req.Extra = map[string]any{"feePayer": feePayer}
			}
		}

		requirements = append(requirements, req)
	}

	return requirements, nil
}

// ParsePrice converts a human price such as "$0.01" or "0.0005" into atomic
// units of an asset with the given decimals. Fractions below one atomic unit
// are floored, so the payer is never charged more than the listed price.
func ParsePrice(price string, decimals int32) (*big.Int, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return nil, fmt.Errorf("%w: price cannot be empty", ErrInvalidAmount)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, price, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: price cannot be negative: %q", ErrInvalidAmount, price)
	}

	return d.Shift(decimals).Floor().BigInt(), nil
}

// FormatAmount renders atomic units back into a decimal string, trimming
// trailing zeros (e.g., "500" with 6 decimals becomes "0.0005").
func FormatAmount(atomic string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(atomic)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, atomic)
	}
	return d.Shift(-decimals).String(), nil
}
