package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/iaomarket/x402-go"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"valid positive amount", "10000", false},
		{"valid large amount", "999999999999999999999", false},
		{"zero amount", "0", false},
		{"empty amount", "", true},
		{"negative amount", "-100", true},
		{"invalid format - letters", "abc", true},
		{"invalid format - mixed", "123abc", true},
		{"invalid format - decimal", "100.50", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(tt.amount)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAmount(%q) error = %v, wantErr %v", tt.amount, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, x402.ErrInvalidAmount) {
				t.Errorf("expected ErrInvalidAmount, got %v", err)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"valid address", "0x209693Bc6afc0C5328bA36FaF03C514EF312287C", false},
		{"lowercase address", "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", false},
		{"empty", "", true},
		{"no prefix", "209693Bc6afc0C5328bA36FaF03C514EF312287C", true},
		{"too short", "0x1234", true},
		{"non-hex", "0xZZ9693Bc6afc0C5328bA36FaF03C514EF312287C", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			}
		})
	}
}

func validRequirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           "base",
		MaxAmountRequired: "10000",
		Asset:             x402.BaseMainnet.USDCAddress,
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		Extra:             map[string]interface{}{"name": "USD Coin", "version": "2"},
	}
}

func TestValidateMinimalRequirement(t *testing.T) {
	req := x402.PaymentRequirement{PayTo: "0xPAY", Asset: "0xUSDC", MaxAmountRequired: "10000"}
	if err := ValidateMinimalRequirement(req); err != nil {
		t.Errorf("minimal requirement should not check address formats: %v", err)
	}

	req.PayTo = ""
	if err := ValidateMinimalRequirement(req); err == nil {
		t.Error("expected error for empty payTo")
	}
}

func TestValidatePaymentRequirement(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*x402.PaymentRequirement)
		errFrag string
	}{
		{"valid", func(*x402.PaymentRequirement) {}, ""},
		{"bad amount", func(r *x402.PaymentRequirement) { r.MaxAmountRequired = "1.5" }, "amount"},
		{"unknown network", func(r *x402.PaymentRequirement) { r.Network = "solana" }, "unsupported network"},
		{"bad payTo", func(r *x402.PaymentRequirement) { r.PayTo = "0xPAY" }, "payTo"},
		{"bad asset", func(r *x402.PaymentRequirement) { r.Asset = "0xUSDC" }, "asset"},
		{"bad scheme", func(r *x402.PaymentRequirement) { r.Scheme = "upto" }, "scheme"},
		{"empty domain name", func(r *x402.PaymentRequirement) { r.Extra["name"] = "" }, "name"},
		{"non-string version", func(r *x402.PaymentRequirement) { r.Extra["version"] = 2 }, "version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequirement()
			tt.mutate(&req)
			err := ValidatePaymentRequirement(req)
			if tt.errFrag == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errFrag) {
				t.Errorf("error = %v, want containing %q", err, tt.errFrag)
			}
		})
	}
}

func TestValidateProof(t *testing.T) {
	proof := x402.PaymentProof{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base",
		Payload: x402.ExactPayload{
			Signature: "0xSIG",
			Authorization: x402.TransferAuthorization{
				Value:       "10000",
				ValidAfter:  "1000",
				ValidBefore: "4600",
				Nonce:       "0x" + strings.Repeat("0a", 32),
			},
		},
	}

	if err := ValidateProof(proof, 1000); err != nil {
		t.Errorf("proof valid at validAfter: %v", err)
	}
	if err := ValidateProof(proof, 4600); err == nil {
		t.Error("proof must be invalid at validBefore")
	}
	if err := ValidateProof(proof, 999); err == nil {
		t.Error("proof must be invalid before validAfter")
	}

	proof.Payload.Authorization.Nonce = "0x1234"
	if err := ValidateProof(proof, 2000); err == nil {
		t.Error("short nonce must be rejected")
	}

	proof.Payload.Signature = ""
	if err := ValidateProof(proof, 2000); err == nil {
		t.Error("empty signature must be rejected")
	}
}
