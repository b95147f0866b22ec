package evm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iaomarket/x402-go"
)

// Well-known development key and mnemonic (DO NOT use in production).
const (
	testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testMnemonic      = "test test test test test test test test test test test junk"
)

func TestNewWallet(t *testing.T) {
	tests := []struct {
		name    string
		opts    []WalletOption
		wantErr error
		address string
	}{
		{"hex key", []WalletOption{WithPrivateKey(testPrivateKeyHex)}, nil, testPayer},
		{"hex key with prefix", []WalletOption{WithPrivateKey("0x" + testPrivateKeyHex)}, nil, testPayer},
		{"mnemonic account 0", []WalletOption{WithMnemonic(testMnemonic, 0)}, nil, testPayer},
		{"mnemonic account 1", []WalletOption{WithMnemonic(testMnemonic, 1)}, nil, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"},
		{"no key", nil, x402.ErrInvalidKey, ""},
		{"bad hex key", []WalletOption{WithPrivateKey("zz")}, x402.ErrInvalidKey, ""},
		{"bad mnemonic", []WalletOption{WithMnemonic("invalid mnemonic phrase", 0)}, x402.ErrInvalidMnemonic, ""},
		{"bad limit", []WalletOption{WithPrivateKey(testPrivateKeyHex), WithMaxAmountPerCall("-1")}, x402.ErrInvalidAmount, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWallet(tt.opts...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if w.Address() != tt.address {
				t.Errorf("expected address %s, got %s", tt.address, w.Address())
			}
		})
	}
}

func TestWithKeystore(t *testing.T) {
	dir := t.TempDir()
	password := "testpassword123"

	privateKey, err := crypto.HexToECDSA(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("failed to parse test private key: %v", err)
	}
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		t.Fatalf("failed to create keystore: %v", err)
	}

	invalidJSON := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalidJSON, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		path     string
		password string
		wantErr  bool
	}{
		{"correct password", account.URL.Path, password, false},
		{"wrong password", account.URL.Path, "wrongpassword", true},
		{"missing file", filepath.Join(dir, "nonexistent.json"), password, true},
		{"invalid json", invalidJSON, password, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWallet(WithKeystore(tt.path, tt.password))
			if tt.wantErr {
				if !errors.Is(err, x402.ErrInvalidKeystore) {
					t.Fatalf("expected ErrInvalidKeystore, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if w.Address() != account.Address.Hex() {
				t.Errorf("expected address %s, got %s", account.Address.Hex(), w.Address())
			}
		})
	}
}

func TestWallet_SignTypedData(t *testing.T) {
	w, err := NewWallet(WithPrivateKey(testPrivateKeyHex))
	if err != nil {
		t.Fatal(err)
	}
	auth, err := NewAuthorizationBuilder().Build(baseRequirement(), w.Address())
	if err != nil {
		t.Fatal(err)
	}

	sig, err := w.SignTypedData(context.Background(), w.Address(), auth.TypedData)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("signature %q is not 65 bytes of 0x hex", sig)
	}
	if v := sig[130:]; v != "1b" && v != "1c" {
		t.Errorf("expected v of 27 or 28, got 0x%s", v)
	}

	signer, err := RecoverSigner(auth.TypedData, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != w.Address() {
		t.Errorf("recovered %s, want %s", signer, w.Address())
	}
}

func TestWallet_SignTypedData_Errors(t *testing.T) {
	w, err := NewWallet(WithPrivateKey(testPrivateKeyHex), WithMaxAmountPerCall("5000"))
	if err != nil {
		t.Fatal(err)
	}
	auth, err := NewAuthorizationBuilder().Build(baseRequirement(), w.Address())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("foreign account", func(t *testing.T) {
		_, err := w.SignTypedData(context.Background(), testPayTo, auth.TypedData)
		if !errors.Is(err, x402.ErrSignerUnavailable) {
			t.Errorf("expected ErrSignerUnavailable, got %v", err)
		}
	})

	t.Run("amount above limit", func(t *testing.T) {
		_, err := w.SignTypedData(context.Background(), w.Address(), auth.TypedData)
		if err == nil || !strings.Contains(err.Error(), "exceeds per-call limit") {
			t.Errorf("expected limit error, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := w.SignTypedData(ctx, w.Address(), auth.TypedData)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRecoverSigner_InvalidSignature(t *testing.T) {
	auth, err := NewAuthorizationBuilder().Build(baseRequirement(), testPayer)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := RecoverSigner(auth.TypedData, "0x1234"); err == nil {
		t.Error("expected error for short signature")
	}
}
