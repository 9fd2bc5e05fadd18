package svm

import (
	"encoding/base64"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// ErrNoTransfer is returned when a transaction carries no recognizable transfer.
var ErrNoTransfer = errors.New("svm: transaction has no transfer instruction")

// DecodeTransaction parses a base64 wire transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

// PayerFromTransaction returns the authority of the first token or system
// transfer in a base64 wire transaction.
func PayerFromTransaction(encoded string) (solana.PublicKey, error) {
	tx, err := DecodeTransaction(encoded)
	if err != nil {
		return solana.PublicKey{}, err
	}

	for _, inst := range tx.Message.Instructions {
		prog, err := tx.Message.ResolveProgramIDIndex(inst.ProgramIDIndex)
		if err != nil {
			continue
		}
		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			continue
		}

		switch {
		case prog.Equals(solana.TokenProgramID):
			ix, err := token.DecodeInstruction(accounts, inst.Data)
			if err != nil {
				continue
			}
			switch t := ix.Impl.(type) {
			case *token.TransferChecked:
				return t.GetOwnerAccount().PublicKey, nil
			case *token.Transfer:
				return t.GetOwnerAccount().PublicKey, nil
			}
		case prog.Equals(solana.SystemProgramID):
			ix, err := system.DecodeInstruction(accounts, inst.Data)
			if err != nil {
				continue
			}
			if t, ok := ix.Impl.(*system.Transfer); ok {
				return t.GetFundingAccount().PublicKey, nil
			}
		}
	}

	return solana.PublicKey{}, ErrNoTransfer
}

// HasSignature reports whether the transaction carries a non-zero signature
// for account.
func HasSignature(tx *solana.Transaction, account solana.PublicKey) bool {
	idx, err := tx.GetAccountIndex(account)
	if err != nil || int(idx) >= len(tx.Signatures) {
		return false
	}
	return tx.Signatures[idx] != (solana.Signature{})
}
