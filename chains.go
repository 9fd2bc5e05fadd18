// Package x402 implements the x402 pay-per-call protocol: the payment requirement
// catalog, wire types and error taxonomy shared by the server-side gate in package
// http, the chain-specific builders in packages evm and svm, and the retrying client.
package x402

import (
	"fmt"
	"math/big"
	"sort"
)

// NetworkFamily represents the blockchain virtual machine type.
type NetworkFamily int

const (
	// NetworkFamilyUnknown represents an unrecognized network.
	NetworkFamilyUnknown NetworkFamily = iota
	// NetworkFamilyEVM represents Ethereum Virtual Machine chains.
	NetworkFamilyEVM
	// NetworkFamilySVM represents Solana Virtual Machine chains.
	NetworkFamilySVM
)

// String returns the lower-case family tag used in logs and wallet selection.
func (f NetworkFamily) String() string {
	switch f {
	case NetworkFamilyEVM:
		return "evm"
	case NetworkFamilySVM:
		return "svm"
	default:
		return "unknown"
	}
}

// USDCDecimals is the decimal precision of every stablecoin in the registry.
const USDCDecimals = 6

// ChainConfig contains chain-specific configuration for the payable asset.
type ChainConfig struct {
	// NetworkID is the x402 protocol network identifier (e.g., "base", "solana").
	NetworkID string

	// Family selects the signing scheme.
	Family NetworkFamily

	// ChainID is the EIP-155 chain id. Nil for Solana networks.
	ChainID *big.Int

	// RPCURL is the default public RPC endpoint. Only set for Solana networks,
	// where the client reads balances and blockhashes.
	RPCURL string

	// USDCAddress is the official Circle USDC contract address or mint address.
	USDCAddress string

	// Decimals is the number of decimal places of the asset.
	Decimals int32

	// EIP3009Name is the EIP-712 domain "name" of the token contract (EVM only).
	EIP3009Name string

	// EIP3009Version is the EIP-712 domain "version" of the token contract (EVM only).
	EIP3009Version string
}

// Mainnet chain configurations
var (
	SolanaMainnet = ChainConfig{
		NetworkID:   "solana",
		Family:      NetworkFamilySVM,
		RPCURL:      "https://api.mainnet-beta.solana.com",
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:    USDCDecimals,
	}

	BaseMainnet = ChainConfig{
		NetworkID:      "base",
		Family:         NetworkFamilyEVM,
		ChainID:        big.NewInt(8453),
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       USDCDecimals,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	PolygonMainnet = ChainConfig{
		NetworkID:      "polygon",
		Family:         NetworkFamilyEVM,
		ChainID:        big.NewInt(137),
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       USDCDecimals,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	AvalancheMainnet = ChainConfig{
		NetworkID:      "avalanche",
		Family:         NetworkFamilyEVM,
		ChainID:        big.NewInt(43114),
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       USDCDecimals,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

// Testnet chain configurations
var (
	SolanaDevnet = ChainConfig{
		NetworkID:   "solana-devnet",
		Family:      NetworkFamilySVM,
		RPCURL:      "https://api.devnet.solana.com",
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals:    USDCDecimals,
	}

	// BaseSepolia uses "USDC" as its domain name, unlike Base mainnet.
	BaseSepolia = ChainConfig{
		NetworkID:      "base-sepolia",
		Family:         NetworkFamilyEVM,
		ChainID:        big.NewInt(84532),
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       USDCDecimals,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	PolygonAmoy = ChainConfig{
		NetworkID:      "polygon-amoy",
		Family:         NetworkFamilyEVM,
		ChainID:        big.NewInt(80002),
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       USDCDecimals,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	AvalancheFuji = ChainConfig{
		NetworkID:      "avalanche-fuji",
		Family:         NetworkFamilyEVM,
		ChainID:        big.NewInt(43113),
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:       USDCDecimals,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}
)

var registry = map[string]ChainConfig{
	SolanaMainnet.NetworkID:    SolanaMainnet,
	SolanaDevnet.NetworkID:     SolanaDevnet,
	BaseMainnet.NetworkID:      BaseMainnet,
	BaseSepolia.NetworkID:      BaseSepolia,
	PolygonMainnet.NetworkID:   PolygonMainnet,
	PolygonAmoy.NetworkID:      PolygonAmoy,
	AvalancheMainnet.NetworkID: AvalancheMainnet,
	AvalancheFuji.NetworkID:    AvalancheFuji,
}

// LookupNetwork returns the registry entry for a network identifier.
func LookupNetwork(networkID string) (ChainConfig, error) {
	if networkID == "" {
		return ChainConfig{}, fmt.Errorf("%w: network cannot be empty", ErrUnsupportedNetwork)
	}
	chain, ok := registry[networkID]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, networkID)
	}
	return chain, nil
}

// Networks returns every registered network identifier in sorted order.
func Networks() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FamilyOf returns the network family of a network identifier, or
// NetworkFamilyUnknown for networks missing from the registry.
func FamilyOf(networkID string) NetworkFamily {
	chain, err := LookupNetwork(networkID)
	if err != nil {
		return NetworkFamilyUnknown
	}
	return chain.Family
}
