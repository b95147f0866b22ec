// Package validation checks payment requirements and proofs before they are signed or sent.
package validation

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/iaomarket/x402-go"
)

// nonceRegex matches a 0x-prefixed 32-byte hex nonce.
var nonceRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

// ValidateAmount validates that an amount string is a non-negative integer.
// Zero is allowed for free-with-signature flows.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("%w: amount cannot be empty", x402.ErrInvalidAmount)
	}
	if !x402.IsUintString(amount) {
		return fmt.Errorf("%w: invalid amount format: %s", x402.ErrInvalidAmount, amount)
	}
	return nil
}

// ValidateAddress validates a 0x-prefixed 20-byte EVM address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: address cannot be empty", x402.ErrInvalidAddress)
	}
	if len(address) != 42 || !common.IsHexAddress(address) {
		return fmt.Errorf("%w: %s (expected 0x followed by 40 hex characters)", x402.ErrInvalidAddress, address)
	}
	return nil
}

// ValidateMinimalRequirement checks the fields the payment flow cannot proceed without:
// a recipient, an asset, and an integer amount. Address formats are not checked.
func ValidateMinimalRequirement(req x402.PaymentRequirement) error {
	if req.PayTo == "" {
		return fmt.Errorf("invalid requirement: payTo cannot be empty")
	}
	if req.Asset == "" {
		return fmt.Errorf("invalid requirement: asset cannot be empty")
	}
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	return nil
}

// ValidatePaymentRequirement performs full validation of a payment requirement:
// amount, known network, EVM address formats, and scheme.
func ValidatePaymentRequirement(req x402.PaymentRequirement) error {
	if err := ValidateMinimalRequirement(req); err != nil {
		return err
	}

	if _, err := x402.ChainByNetwork(req.Network); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if err := ValidateAddress(req.PayTo); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}

	if err := ValidateAddress(req.Asset); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}

	if req.Scheme != x402.DefaultScheme {
		return fmt.Errorf("invalid requirement: unsupported scheme %q", req.Scheme)
	}

	if name, ok := req.Extra["name"]; ok {
		if s, isString := name.(string); !isString || s == "" {
			return fmt.Errorf("invalid requirement: EIP-3009 name must be a non-empty string")
		}
	}
	if version, ok := req.Extra["version"]; ok {
		if s, isString := version.(string); !isString || s == "" {
			return fmt.Errorf("invalid requirement: EIP-3009 version must be a non-empty string")
		}
	}

	return nil
}

// ValidateAuthorization checks that an authorization is internally consistent and valid at now.
func ValidateAuthorization(auth x402.TransferAuthorization, now int64) error {
	if err := ValidateAmount(auth.Value); err != nil {
		return err
	}
	if !nonceRegex.MatchString(auth.Nonce) {
		return fmt.Errorf("invalid authorization: nonce must be 32 bytes of 0x-prefixed hex")
	}

	after, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return fmt.Errorf("invalid authorization: validAfter %q", auth.ValidAfter)
	}
	before, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return fmt.Errorf("invalid authorization: validBefore %q", auth.ValidBefore)
	}

	t := big.NewInt(now)
	if after.Cmp(t) > 0 || t.Cmp(before) >= 0 {
		return fmt.Errorf("invalid authorization: %d is outside [%s, %s)", now, auth.ValidAfter, auth.ValidBefore)
	}
	return nil
}

// ValidateProof validates a proof envelope before it is sent.
func ValidateProof(proof x402.PaymentProof, now int64) error {
	if proof.X402Version < 1 {
		return fmt.Errorf("invalid proof: x402Version must be >= 1, got %d", proof.X402Version)
	}
	if proof.Scheme == "" {
		return fmt.Errorf("invalid proof: scheme cannot be empty")
	}
	if proof.Network == "" {
		return fmt.Errorf("invalid proof: network cannot be empty")
	}
	if proof.Payload.Signature == "" {
		return fmt.Errorf("invalid proof: signature cannot be empty")
	}
	return ValidateAuthorization(proof.Payload.Authorization, now)
}
