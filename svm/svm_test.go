package svm

import (
	"context"
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// fakeRPC serves canned chain state and records which reads happened.
type fakeRPC struct {
	mu sync.Mutex

	accountErr  error
	noAccount   bool
	balance     string
	balanceErr  error
	blockhash   solana.Hash
	blockErr    error
	calls       []string
	readAccount solana.PublicKey
}

func (f *fakeRPC) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	f.record("GetAccountInfo")
	f.readAccount = account
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	if f.noAccount {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Owner: solana.TokenProgramID}}, nil
}

func (f *fakeRPC) GetTokenAccountBalance(_ context.Context, _ solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	f.record("GetTokenAccountBalance")
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return &rpc.GetTokenAccountBalanceResult{Value: &rpc.UiTokenAmount{Amount: f.balance, Decimals: 6}}, nil
}

func (f *fakeRPC) GetLatestBlockhash(_ context.Context, _ rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	f.record("GetLatestBlockhash")
	if f.blockErr != nil {
		return nil, f.blockErr
	}
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: f.blockhash}}, nil
}

// countingSigner counts signing calls and can be told to fail.
type countingSigner struct {
	inner Signer
	calls int
	err   error
}

func (c *countingSigner) PublicKey() solana.PublicKey { return c.inner.PublicKey() }

func (c *countingSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	c.calls++
	if c.err != nil {
		return c.err
	}
	return c.inner.SignTransaction(ctx, tx)
}

var errRPCDown = errors.New("connection refused")
