package svm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/meterline/x402-gate"
)

const (
	remediationCreateAccount = "create and fund a USDC token account for this wallet"
	remediationTopUp         = "top up the wallet's USDC balance"
)

// Builder turns a payment requirement into a partially signed transfer.
type Builder struct {
	signer     Signer
	rpc        RPC
	commitment rpc.CommitmentType
	logger     *slog.Logger

	computeUnits  uint32
	microLamports uint64
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCommitment sets the commitment used for balance and blockhash reads.
// Defaults to rpc.CommitmentConfirmed.
func WithCommitment(commitment rpc.CommitmentType) BuilderOption {
	return func(b *Builder) {
		b.commitment = commitment
	}
}

// WithComputeBudget prepends compute unit limit and price instructions.
// Off by default; some facilitators reject transactions that carry them.
func WithComputeBudget(units uint32, microLamports uint64) BuilderOption {
	return func(b *Builder) {
		b.computeUnits = units
		b.microLamports = microLamports
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a builder that signs with signer and reads chain state through client.
func NewBuilder(signer Signer, client RPC, opts ...BuilderOption) *Builder {
	b := &Builder{
		signer:     signer,
		rpc:        client,
		commitment: rpc.CommitmentConfirmed,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PublicKey returns the paying account.
func (b *Builder) PublicKey() solana.PublicKey {
	return b.signer.PublicKey()
}

// Build returns a base64 transaction transferring the required amount from the
// payer's associated token account to the recipient's, with extra.feePayer as
// fee payer and only the payer's signature present.
//
// A missing fee payer, a missing source token account or an insufficient
// balance fail before the signer is called.
func (b *Builder) Build(ctx context.Context, requirement *x402.PaymentRequirement) (*x402.SVMPayload, error) {
	feePayerAddr, ok := requirement.ExtraString("feePayer")
	if !ok {
		return nil, x402.NewPaymentError(x402.ErrCodeMissingFeePayer,
			"requirement does not name a fee payer in extra.feePayer", x402.ErrMissingFeePayer).
			WithDetails("network", requirement.Network)
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "invalid fee payer address", err).
			WithDetails("feePayer", feePayerAddr)
	}
	mint, err := solana.PublicKeyFromBase58(requirement.Asset)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "invalid mint address", err).
			WithDetails("asset", requirement.Asset)
	}
	recipient, err := solana.PublicKeyFromBase58(requirement.PayTo)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "invalid recipient address", err).
			WithDetails("payTo", requirement.PayTo)
	}

	amount, ok := new(big.Int).SetString(requirement.MaxAmountRequired, 10)
	if !ok || amount.Sign() <= 0 || !amount.IsUint64() {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "invalid amount in requirements", x402.ErrInvalidAmount).
			WithDetails("amount", requirement.MaxAmountRequired)
	}

	owner := b.signer.PublicKey()

	sourceATA, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find source ATA: %w", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find destination ATA: %w", err)
	}

	if err := b.checkBalance(ctx, requirement.Network, sourceATA, amount); err != nil {
		return nil, err
	}

	latest, err := b.rpc.GetLatestBlockhash(ctx, b.commitment)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to get latest blockhash",
			fmt.Errorf("%w: %w", x402.ErrNetworkError, err))
	}
	if latest == nil || latest.Value == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNetworkError, "empty blockhash response", x402.ErrNetworkError)
	}

	var instructions []solana.Instruction
	if b.computeUnits > 0 {
		cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
			SetUnits(b.computeUnits).
			ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("failed to build compute limit instruction: %w", err)
		}
		cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
			SetMicroLamports(b.microLamports).
			ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("failed to build compute price instruction: %w", err)
		}
		instructions = append(instructions, cuLimit, cuPrice)
	}

	transfer, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount.Uint64()).
		SetDecimals(x402.USDCDecimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(mint).
		SetDestinationAccount(destATA).
		SetOwnerAccount(owner).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	instructions = append(instructions, transfer)

	tx, err := solana.NewTransaction(instructions, latest.Value.Blockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	if err := b.signer.SignTransaction(ctx, tx); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign transaction",
			fmt.Errorf("%w: %w", x402.ErrSigningFailed, err)).
			WithDetails("network", requirement.Network)
	}
	if !HasSignature(tx, owner) || HasSignature(tx, feePayer) {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed,
			"signed transaction must carry the payer's signature and leave the fee payer's empty", x402.ErrSigningFailed).
			WithDetails("network", requirement.Network)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	b.logger.Debug("signed solana transfer",
		"network", requirement.Network,
		"payer", owner.String(),
		"fee_payer", feePayer.String(),
		"amount", amount.String())

	return &x402.SVMPayload{
		Transaction: base64.StdEncoding.EncodeToString(txBytes),
	}, nil
}

// checkBalance fails with ACCOUNT_NOT_FOUND or INSUFFICIENT_BALANCE, both
// carrying remediation text, or NETWORK_ERROR when the reads fail.
func (b *Builder) checkBalance(ctx context.Context, network string, account solana.PublicKey, amount *big.Int) error {
	info, err := b.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (info == nil || info.Value == nil)) {
		return x402.NewPaymentError(x402.ErrCodeAccountNotFound, "no token account for this asset", x402.ErrTokenAccountNotFound).
			WithDetails("network", network).
			WithDetails("account", account.String()).
			WithDetails("remediation", remediationCreateAccount)
	}
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to read token account",
			fmt.Errorf("%w: %w", x402.ErrNetworkError, err))
	}

	balance, err := b.rpc.GetTokenAccountBalance(ctx, account, b.commitment)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeNetworkError, "failed to read token balance",
			fmt.Errorf("%w: %w", x402.ErrNetworkError, err))
	}
	if balance == nil || balance.Value == nil {
		return x402.NewPaymentError(x402.ErrCodeNetworkError, "empty token balance response", x402.ErrNetworkError)
	}

	have, ok := new(big.Int).SetString(balance.Value.Amount, 10)
	if !ok {
		return x402.NewPaymentError(x402.ErrCodeNetworkError, "unparseable token balance", x402.ErrNetworkError).
			WithDetails("balance", balance.Value.Amount)
	}
	if have.Cmp(amount) < 0 {
		return x402.NewPaymentError(x402.ErrCodeInsufficientBalance, "token balance is below the required amount", x402.ErrInsufficientFunds).
			WithDetails("network", network).
			WithDetails("account", account.String()).
			WithDetails("balance", have.String()).
			WithDetails("required", amount.String()).
			WithDetails("remediation", remediationTopUp)
	}
	return nil
}
