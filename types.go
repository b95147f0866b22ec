package x402

import (
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
)

// Protocol defaults applied when a payment challenge omits a field.
const (
	// ProtocolVersion is the x402 protocol version spoken by this client.
	ProtocolVersion = 1

	// DefaultScheme is the payment scheme assumed when a challenge omits it.
	DefaultScheme = "exact"

	// DefaultNetwork is the settlement network assumed when a challenge omits it.
	DefaultNetwork = "base"

	// PaymentHeader carries the encoded PaymentProof on the paid retry.
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the encoded SettlementResponse on a paid response.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

var uintPattern = regexp.MustCompile(`^[0-9]+$`)

// PaymentRequirement represents the payment option selected from a 402 response.
// A requirement is treated as immutable once parsed; callers receive it by value.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (e.g., "exact").
	Scheme string `json:"scheme"`

	// Network is the settlement network identifier (e.g., "base").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic token units, as a decimal string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the token contract address.
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource,omitempty"`

	// Description is an optional human-readable payment description.
	Description string `json:"description,omitempty"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// MaxTimeoutSeconds is the server's advertised validity period. It is informational only;
	// the client applies its own validity window.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra contains scheme-specific additional data (EIP-712 domain name and version).
	Extra map[string]interface{} `json:"extra,omitempty"`

	// ProtocolVersion is the x402Version of the challenge this requirement came from.
	ProtocolVersion int `json:"-"`
}

// Amount returns MaxAmountRequired as a big integer.
func (r PaymentRequirement) Amount() (*big.Int, error) {
	if !IsUintString(r.MaxAmountRequired) {
		return nil, ErrInvalidAmount
	}
	amount, ok := new(big.Int).SetString(r.MaxAmountRequired, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return amount, nil
}

// ExtraString returns a string entry of Extra, or "" when absent.
func (r PaymentRequirement) ExtraString(key string) string {
	if r.Extra == nil {
		return ""
	}
	s, _ := r.Extra[key].(string)
	return s
}

// PaymentRequirementsResponse represents the complete 402 response body.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error,omitempty"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// TransferAuthorization holds EIP-3009 transferWithAuthorization parameters.
// Every numeric field is a decimal string so no precision is lost in transport.
type TransferAuthorization struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units.
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte 0x-prefixed hex string that keys replay protection.
	Nonce string `json:"nonce"`
}

// ExactPayload is the scheme payload of an "exact" EVM payment.
type ExactPayload struct {
	// Signature is the hex-encoded EIP-712 signature.
	Signature string `json:"signature"`

	// Authorization contains the signed transfer parameters.
	Authorization TransferAuthorization `json:"authorization"`
}

// PaymentProof is the envelope sent to the resource server in the X-PAYMENT header.
// A proof is built once per attempt and never cached.
type PaymentProof struct {
	// X402Version is the protocol version of the challenge being answered.
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier.
	Scheme string `json:"scheme"`

	// Network is the settlement network identifier.
	Network string `json:"network"`

	// Payload contains the signature and the signed authorization.
	Payload ExactPayload `json:"payload"`
}

// SettlementResponse represents the server's report after payment settlement.
type SettlementResponse struct {
	// Success indicates whether the payment was successfully settled.
	Success bool `json:"success"`

	// ErrorReason provides details if the payment failed.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the blockchain transaction hash.
	Transaction string `json:"transaction,omitempty"`

	// Network is the blockchain network where the payment was settled.
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer"`
}

// IsUintString reports whether s is a non-empty string of decimal digits.
func IsUintString(s string) bool {
	return uintPattern.MatchString(s)
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000. Amounts with more precision
// than the token supports are rejected rather than rounded.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil || value.IsNegative() {
		return nil, ErrInvalidAmount
	}

	atomic := value.Shift(int32(decimals))
	if !atomic.Equal(atomic.Truncate(0)) {
		return nil, ErrInvalidAmount
	}
	return atomic.BigInt(), nil
}

// BigIntToAmount converts an atomic amount to a human-readable decimal string.
// For example, 1500000 with 6 decimals becomes "1.5".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}
