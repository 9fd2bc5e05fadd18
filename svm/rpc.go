package svm

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/meterline/x402-gate"
)

// RPC is the subset of *rpc.Client the builder reads chain state with.
type RPC interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

var _ RPC = (*rpc.Client)(nil)

// NewRPC returns a client for endpoint, or for the network's default public
// endpoint when endpoint is empty.
func NewRPC(network, endpoint string) (*rpc.Client, error) {
	if endpoint != "" {
		return rpc.New(endpoint), nil
	}

	chain, err := x402.LookupNetwork(network)
	if err != nil {
		return nil, err
	}
	if chain.Family != x402.NetworkFamilySVM {
		return nil, x402.ErrInvalidNetwork
	}
	return rpc.New(chain.RPCURL), nil
}
