package evm

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/meterline/x402-gate"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// WithKeystore loads a private key from an encrypted V3 keystore file. When
// the file names an address, the decrypted key must match it.
func WithKeystore(keystorePath, password string) SignerOption {
	return func(s *KeySigner) error {
		data, err := os.ReadFile(keystorePath)
		if err != nil {
			return fmt.Errorf("%w: %v", x402.ErrInvalidKeystore, err)
		}

		var header struct {
			Address string `json:"address"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			return fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKeystore)
		}

		key, err := keystore.DecryptKey(data, password)
		if err != nil {
			return fmt.Errorf("%w: decryption failed", x402.ErrInvalidKeystore)
		}
		if header.Address != "" && common.HexToAddress(header.Address) != key.Address {
			return fmt.Errorf("%w: key does not match address %s", x402.ErrInvalidKeystore, header.Address)
		}

		s.privateKey = key.PrivateKey
		return nil
	}
}

// WithMnemonic derives a private key from a BIP39 mnemonic phrase along
// m/44'/60'/0'/0/{accountIndex}.
func WithMnemonic(mnemonic string, accountIndex uint32) SignerOption {
	return func(s *KeySigner) error {
		mnemonic = strings.Join(strings.Fields(mnemonic), " ")
		if !bip39.IsMnemonicValid(mnemonic) {
			return x402.ErrInvalidMnemonic
		}

		seed := bip39.NewSeed(mnemonic, "")
		privateKey, err := deriveEthereumKey(seed, accountIndex)
		if err != nil {
			return fmt.Errorf("%w: %v", x402.ErrInvalidMnemonic, err)
		}

		s.privateKey = privateKey
		return nil
	}
}

func deriveEthereumKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	path := []uint32{
		bip32.FirstHardenedChild + 44, // purpose
		bip32.FirstHardenedChild + 60, // ethereum
		bip32.FirstHardenedChild,      // account 0
		0,                             // external chain
		index,
	}
	for _, child := range path {
		key, err = key.NewChildKey(child)
		if err != nil {
			return nil, err
		}
	}

	return crypto.ToECDSA(key.Key)
}
