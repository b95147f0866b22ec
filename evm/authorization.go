// Package evm builds and signs EIP-3009 transferWithAuthorization payments for EVM chains.
package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/iaomarket/x402-go"
)

// DefaultValidityWindow is how long a built authorization stays valid.
const DefaultValidityWindow = time.Hour

// PrimaryType is the EIP-712 primary type of an EIP-3009 transfer authorization.
const PrimaryType = "TransferWithAuthorization"

// Types is the EIP-712 type set for transferWithAuthorization.
var Types = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// Authorization pairs the transfer parameters with the typed data a wallet signs over them.
type Authorization struct {
	Transfer  x402.TransferAuthorization
	TypedData apitypes.TypedData
}

// AuthorizationBuilder turns a payment requirement into an unsigned EIP-3009 authorization.
type AuthorizationBuilder struct {
	window  time.Duration
	chainID *big.Int
	random  io.Reader
	now     func() time.Time
}

// BuilderOption configures an AuthorizationBuilder.
type BuilderOption func(*AuthorizationBuilder)

// WithValidityWindow sets how long authorizations stay valid. Authorizations carry unix
// seconds, so values below one second or with a fractional second are ignored.
func WithValidityWindow(d time.Duration) BuilderOption {
	return func(b *AuthorizationBuilder) {
		if d >= time.Second && d%time.Second == 0 {
			b.window = d
		}
	}
}

// WithChainID overrides the chain id lookup, allowing networks missing from the chain table.
func WithChainID(id int64) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.chainID = big.NewInt(id)
	}
}

// WithRandom sets the nonce source. Defaults to crypto/rand.
func WithRandom(r io.Reader) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.random = r
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *AuthorizationBuilder) {
		b.now = now
	}
}

// NewAuthorizationBuilder creates a builder with a one hour validity window.
func NewAuthorizationBuilder(opts ...BuilderOption) *AuthorizationBuilder {
	b := &AuthorizationBuilder{
		window: DefaultValidityWindow,
		random: rand.Reader,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Window returns the configured validity window.
func (b *AuthorizationBuilder) Window() time.Duration {
	return b.window
}

// Build creates the authorization for paying req from the given account.
// The amount is carried verbatim and a fresh nonce is drawn on every call.
func (b *AuthorizationBuilder) Build(req x402.PaymentRequirement, from string) (*Authorization, error) {
	if _, err := req.Amount(); err != nil {
		return nil, fmt.Errorf("%w: %q", x402.ErrInvalidAmount, req.MaxAmountRequired)
	}

	chainID, name, version, err := b.domain(req)
	if err != nil {
		return nil, err
	}

	nonce, err := b.nonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := b.now().Unix()
	validAfter := strconv.FormatInt(now, 10)
	validBefore := strconv.FormatInt(now+int64(b.window/time.Second), 10)

	transfer := x402.TransferAuthorization{
		From:        from,
		To:          req.PayTo,
		Value:       req.MaxAmountRequired,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}

	typedData := apitypes.TypedData{
		Types:       Types,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: req.Asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        transfer.From,
			"to":          transfer.To,
			"value":       transfer.Value,
			"validAfter":  transfer.ValidAfter,
			"validBefore": transfer.ValidBefore,
			"nonce":       transfer.Nonce,
		},
	}

	return &Authorization{Transfer: transfer, TypedData: typedData}, nil
}

// domain resolves the chain id and the EIP-712 name/version. Names advertised in the
// challenge win over the chain defaults.
func (b *AuthorizationBuilder) domain(req x402.PaymentRequirement) (*big.Int, string, string, error) {
	chain, err := x402.ChainByNetwork(req.Network)
	if err != nil && b.chainID == nil {
		return nil, "", "", err
	}

	chainID := b.chainID
	if chainID == nil {
		chainID = chain.ChainIDBig()
	}

	name := req.ExtraString("name")
	if name == "" {
		name = chain.EIP3009Name
	}
	version := req.ExtraString("version")
	if version == "" {
		version = chain.EIP3009Version
	}
	return new(big.Int).Set(chainID), name, version, nil
}

// nonce draws 32 random bytes and returns them as 0x-prefixed hex.
func (b *AuthorizationBuilder) nonce() (string, error) {
	var buf [32]byte
	if _, err := io.ReadFull(b.random, buf[:]); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(buf[:]), nil
}
