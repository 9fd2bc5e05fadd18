// Package wallet pairs a payer with the network family it can pay on.
package wallet

import (
	"context"
	"fmt"

	"github.com/meterline/x402-gate"
	"github.com/meterline/x402-gate/evm"
	"github.com/meterline/x402-gate/svm"
)

// Wallet is either an EVM or a Solana payer. Construct it with EVM or Solana;
// the zero value pays on no network.
type Wallet struct {
	family x402.NetworkFamily
	evm    *evm.Builder
	svm    *svm.Builder
}

// EVM returns a wallet that pays with EIP-3009 authorizations.
func EVM(builder *evm.Builder) Wallet {
	return Wallet{family: x402.NetworkFamilyEVM, evm: builder}
}

// Solana returns a wallet that pays with partially signed SPL transfers.
func Solana(builder *svm.Builder) Wallet {
	return Wallet{family: x402.NetworkFamilySVM, svm: builder}
}

// Family reports which networks the wallet can pay on.
func (w Wallet) Family() x402.NetworkFamily {
	return w.family
}

// Address returns the paying account in its chain's native format.
func (w Wallet) Address() string {
	switch w.family {
	case x402.NetworkFamilyEVM:
		return w.evm.Address().Hex()
	case x402.NetworkFamilySVM:
		return w.svm.PublicKey().String()
	default:
		return ""
	}
}

// Pay builds and signs the envelope for requirement. The requirement's network
// must belong to the wallet's family.
func (w Wallet) Pay(ctx context.Context, requirement *x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	chain, err := x402.LookupNetwork(requirement.Network)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNoCompatibleOption, "unknown network", err).
			WithDetails("network", requirement.Network)
	}
	if chain.Family != w.family {
		return nil, x402.NewPaymentError(x402.ErrCodeNoCompatibleOption,
			fmt.Sprintf("%s wallet cannot pay on %s", w.family, requirement.Network), x402.ErrNoCompatibleOption)
	}

	var payload any
	switch w.family {
	case x402.NetworkFamilyEVM:
		payload, err = w.evm.Build(ctx, requirement, chain.ChainID)
	case x402.NetworkFamilySVM:
		payload, err = w.svm.Build(ctx, requirement)
	}
	if err != nil {
		return nil, err
	}

	return x402.NewPaymentPayload(requirement, payload)
}
