package x402

import (
	"context"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignatureGateway is the capability to obtain EIP-712 signatures from a Wallet Signer.
// It is the only component that touches key material. Implementations may block on
// out-of-band human approval and must return promptly once ctx is cancelled.
type SignatureGateway interface {
	// Address returns the connected payer account, or "" when no wallet is connected.
	Address() string

	// SignTypedData signs data with the account that owns address and returns the
	// 0x-prefixed signature. It returns ErrSignerUnavailable when no signing capability
	// can be obtained for address; any other error is treated as a rejection.
	SignTypedData(ctx context.Context, address string, data apitypes.TypedData) (string, error)
}

// SignatureGatewayFunc adapts a function to a SignatureGateway bound to one address.
type SignatureGatewayFunc struct {
	Account string
	Sign    func(ctx context.Context, address string, data apitypes.TypedData) (string, error)
}

// Address implements SignatureGateway.
func (f SignatureGatewayFunc) Address() string {
	return f.Account
}

// SignTypedData implements SignatureGateway.
func (f SignatureGatewayFunc) SignTypedData(ctx context.Context, address string, data apitypes.TypedData) (string, error) {
	if f.Sign == nil {
		return "", ErrSignerUnavailable
	}
	return f.Sign(ctx, address, data)
}
