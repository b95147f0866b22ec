package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/iaomarket/x402-go"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// Wallet is a local SignatureGateway holding a single secp256k1 key.
type Wallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	maxAmount  *big.Int
}

// WalletOption configures a Wallet.
type WalletOption func(*Wallet) error

var _ x402.SignatureGateway = (*Wallet)(nil)

// NewWallet creates a wallet from exactly one key source option.
func NewWallet(opts ...WalletOption) (*Wallet, error) {
	w := &Wallet{}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}

	if w.privateKey == nil {
		return nil, x402.ErrInvalidKey
	}
	w.address = crypto.PubkeyToAddress(w.privateKey.PublicKey)
	return w, nil
}

// WithPrivateKey sets the private key from a hex string.
func WithPrivateKey(hexKey string) WalletOption {
	return func(w *Wallet) error {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return x402.ErrInvalidKey
		}
		w.privateKey = privateKey
		return nil
	}
}

// WithKeystore loads a private key from an encrypted keystore file.
func WithKeystore(keystorePath, password string) WalletOption {
	return func(w *Wallet) error {
		data, err := os.ReadFile(keystorePath)
		if err != nil {
			return fmt.Errorf("%w: %v", x402.ErrInvalidKeystore, err)
		}

		var keyJSON struct {
			Crypto keystore.CryptoJSON `json:"crypto"`
		}
		if err := json.Unmarshal(data, &keyJSON); err != nil {
			return fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKeystore)
		}

		privateKeyBytes, err := keystore.DecryptDataV3(keyJSON.Crypto, password)
		if err != nil {
			return fmt.Errorf("%w: decryption failed", x402.ErrInvalidKeystore)
		}

		privateKey, err := crypto.ToECDSA(privateKeyBytes)
		if err != nil {
			return fmt.Errorf("%w: invalid private key", x402.ErrInvalidKeystore)
		}
		w.privateKey = privateKey
		return nil
	}
}

// WithMnemonic derives the key from a BIP-39 phrase at m/44'/60'/0'/0/{accountIndex}.
func WithMnemonic(mnemonic string, accountIndex uint32) WalletOption {
	return func(w *Wallet) error {
		if !bip39.IsMnemonicValid(mnemonic) {
			return x402.ErrInvalidMnemonic
		}

		privateKey, err := deriveKey(bip39.NewSeed(mnemonic, ""), accountIndex)
		if err != nil {
			return fmt.Errorf("%w: %v", x402.ErrInvalidMnemonic, err)
		}
		w.privateKey = privateKey
		return nil
	}
}

// WithMaxAmountPerCall makes the wallet refuse transfers above amount atomic units.
func WithMaxAmountPerCall(amount string) WalletOption {
	return func(w *Wallet) error {
		if !x402.IsUintString(amount) {
			return x402.ErrInvalidAmount
		}
		w.maxAmount, _ = new(big.Int).SetString(amount, 10)
		return nil
	}
}

// deriveKey follows the BIP-44 Ethereum path.
func deriveKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild,
		0,
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

// Address returns the checksummed account address.
func (w *Wallet) Address() string {
	return w.address.Hex()
}

// SignTypedData signs an EIP-712 payload on behalf of address.
func (w *Wallet) SignTypedData(ctx context.Context, address string, data apitypes.TypedData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !common.IsHexAddress(address) || common.HexToAddress(address) != w.address {
		return "", fmt.Errorf("%w: no key for account %s", x402.ErrSignerUnavailable, address)
	}
	if err := w.checkLimit(data); err != nil {
		return "", err
	}

	digest, err := TypedDataHash(data)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, w.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}
	// Ethereum v is 27 or 28.
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

func (w *Wallet) checkLimit(data apitypes.TypedData) error {
	if w.maxAmount == nil || data.PrimaryType != PrimaryType {
		return nil
	}
	raw := fmt.Sprint(data.Message["value"])
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fmt.Errorf("%w: %q", x402.ErrInvalidAmount, raw)
	}
	if value.Cmp(w.maxAmount) > 0 {
		return fmt.Errorf("amount %s exceeds per-call limit %s", value, w.maxAmount)
	}
	return nil
}

// TypedDataHash returns keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func TypedDataHash(data apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := data.HashStruct("EIP712Domain", data.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := data.HashStruct(data.PrimaryType, data.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// RecoverSigner returns the address that produced signature over data.
func RecoverSigner(data apitypes.TypedData, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("invalid signature encoding")
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest, err := TypedDataHash(data)
	if err != nil {
		return "", err
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}
