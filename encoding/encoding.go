// Package encoding provides the transport codecs for x402 headers.
// Every value is UTF-8 JSON wrapped in standard base64 so it is safe in an HTTP header.
// Amounts and timestamps stay JSON strings end to end and are never re-parsed as numbers.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iaomarket/x402-go"
)

// EncodeProof converts a PaymentProof to the base64-encoded JSON carried in X-PAYMENT.
func EncodeProof(proof x402.PaymentProof) (string, error) {
	return encode(proof, "proof")
}

// DecodeProof converts an X-PAYMENT header value back to a PaymentProof.
// Unknown fields are rejected so a decoded proof is structurally identical to what was encoded.
func DecodeProof(encoded string) (x402.PaymentProof, error) {
	var proof x402.PaymentProof
	err := decode(encoded, &proof, "proof", true)
	return proof, err
}

// EncodeSettlement converts a SettlementResponse to base64-encoded JSON.
// This is the format of the X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement x402.SettlementResponse) (string, error) {
	return encode(settlement, "settlement")
}

// DecodeSettlement converts an X-PAYMENT-RESPONSE header value to a SettlementResponse.
func DecodeSettlement(encoded string) (x402.SettlementResponse, error) {
	var settlement x402.SettlementResponse
	err := decode(encoded, &settlement, "settlement", false)
	return settlement, err
}

func encode(v interface{}, what string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decode(encoded string, v interface{}, what string, strict bool) error {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return fmt.Errorf("%w: empty %s", x402.ErrMalformedHeader, what)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: failed to decode base64: %v", x402.ErrMalformedHeader, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s: %v", x402.ErrMalformedHeader, what, err)
	}
	return nil
}
