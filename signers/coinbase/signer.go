// Package coinbase provides a remote SignatureGateway backed by a Coinbase Developer
// Platform (CDP) custodial EVM wallet. Key material never leaves CDP; typed data is
// posted to the account's sign endpoint and the signature is returned.
package coinbase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/iaomarket/x402-go"
	"github.com/iaomarket/x402-go/evm"
	"github.com/iaomarket/x402-go/retry"
)

// Environment variables read by WithCDPCredentialsFromEnv.
const (
	EnvAPIKeyName   = "CDP_API_KEY_NAME"
	EnvAPIKeySecret = "CDP_API_KEY_SECRET"
	EnvWalletSecret = "CDP_WALLET_SECRET"
)

// Signer implements x402.SignatureGateway with a CDP wallet.
type Signer struct {
	client    *CDPClient
	auth      cdpAuth
	network   string
	address   string
	maxAmount *big.Int

	baseURL    string
	httpClient *http.Client
	retry      *retry.Config
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

var _ x402.SignatureGateway = (*Signer)(nil)

// NewSigner resolves the CDP account for the configured network, creating it when the
// credentials hold none. WithAccountAddress skips the lookup.
func NewSigner(ctx context.Context, opts ...SignerOption) (*Signer, error) {
	s := &Signer{network: x402.DefaultNetwork}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.auth == nil {
		return nil, ErrNoCredentials
	}
	if _, err := CDPNetwork(s.network); err != nil {
		return nil, err
	}

	s.client = NewCDPClient(s.auth)
	if s.baseURL != "" {
		s.client.baseURL = s.baseURL
	}
	if s.httpClient != nil {
		s.client.httpClient = s.httpClient
	}
	if s.retry != nil {
		s.client.retry = *s.retry
	}

	if s.address == "" {
		account, err := CreateOrGetAccount(ctx, s.client, s.network)
		if err != nil {
			return nil, err
		}
		if !common.IsHexAddress(account.Address) {
			return nil, fmt.Errorf("%w: CDP account address %q", x402.ErrInvalidAddress, account.Address)
		}
		s.address = common.HexToAddress(account.Address).Hex()
	}
	return s, nil
}

// WithCDPCredentials sets the API key and wallet secret.
// apiKeySecret is the PEM-encoded private key downloaded from CDP.
func WithCDPCredentials(apiKeyName, apiKeySecret, walletSecret string) SignerOption {
	return func(s *Signer) error {
		auth, err := NewCDPAuth(apiKeyName, apiKeySecret, walletSecret)
		if err != nil {
			return fmt.Errorf("failed to initialize CDP auth: %w", err)
		}
		s.auth = auth
		return nil
	}
}

// WithCDPCredentialsFromEnv reads CDP_API_KEY_NAME, CDP_API_KEY_SECRET and CDP_WALLET_SECRET.
func WithCDPCredentialsFromEnv() SignerOption {
	return func(s *Signer) error {
		name := os.Getenv(EnvAPIKeyName)
		secret := os.Getenv(EnvAPIKeySecret)
		if name == "" || secret == "" {
			return fmt.Errorf("%w: %s and %s must be set", ErrNoCredentials, EnvAPIKeyName, EnvAPIKeySecret)
		}
		return WithCDPCredentials(name, secret, os.Getenv(EnvWalletSecret))(s)
	}
}

// WithNetwork sets the x402 network whose account is used. Defaults to "base".
func WithNetwork(network string) SignerOption {
	return func(s *Signer) error {
		s.network = network
		return nil
	}
}

// WithAccountAddress uses an existing CDP account instead of looking one up.
func WithAccountAddress(address string) SignerOption {
	return func(s *Signer) error {
		if !common.IsHexAddress(address) {
			return fmt.Errorf("%w: %q", x402.ErrInvalidAddress, address)
		}
		s.address = common.HexToAddress(address).Hex()
		return nil
	}
}

// WithMaxAmountPerCall refuses transfers above amount atomic units before contacting CDP.
func WithMaxAmountPerCall(amount string) SignerOption {
	return func(s *Signer) error {
		if !x402.IsUintString(amount) {
			return x402.ErrInvalidAmount
		}
		s.maxAmount, _ = new(big.Int).SetString(amount, 10)
		return nil
	}
}

// WithBaseURL points the signer at a different CDP API endpoint.
func WithBaseURL(baseURL string) SignerOption {
	return func(s *Signer) error {
		s.baseURL = baseURL
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for CDP requests.
func WithHTTPClient(client *http.Client) SignerOption {
	return func(s *Signer) error {
		if client == nil {
			return errors.New("coinbase: http client must not be nil")
		}
		s.httpClient = client
		return nil
	}
}

// WithRetryConfig overrides the backoff applied to rate limits and server errors.
func WithRetryConfig(cfg retry.Config) SignerOption {
	return func(s *Signer) error {
		s.retry = &cfg
		return nil
	}
}

// Address returns the checksummed CDP account address.
func (s *Signer) Address() string {
	return s.address
}

// Network returns the x402 network the account was resolved on.
func (s *Signer) Network() string {
	return s.network
}

type signTypedDataRequest struct {
	Domain      signDomain                `json:"domain"`
	Types       apitypes.Types            `json:"types"`
	PrimaryType string                    `json:"primaryType"`
	Message     apitypes.TypedDataMessage `json:"message"`
}

type signDomain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

type signTypedDataResponse struct {
	Signature string `json:"signature"`
}

// SignTypedData asks CDP to sign data with the account. It returns
// x402.ErrSignerUnavailable when address is not this account, when no wallet secret is
// configured, or when CDP does not know the account.
func (s *Signer) SignTypedData(ctx context.Context, address string, data apitypes.TypedData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !common.IsHexAddress(address) || common.HexToAddress(address).Hex() != s.address {
		return "", fmt.Errorf("%w: no CDP account %s", x402.ErrSignerUnavailable, address)
	}
	if err := s.checkLimit(data); err != nil {
		return "", err
	}

	req := signTypedDataRequest{
		Domain: signDomain{
			Name:              data.Domain.Name,
			Version:           data.Domain.Version,
			VerifyingContract: data.Domain.VerifyingContract,
		},
		Types:       data.Types,
		PrimaryType: data.PrimaryType,
		Message:     data.Message,
	}
	if data.Domain.ChainId != nil {
		req.Domain.ChainID = (*big.Int)(data.Domain.ChainId).Int64()
	}

	path := fmt.Sprintf("%s/%s/sign/typed-data", evmAccountsPath, s.address)
	var resp signTypedDataResponse
	err := s.client.doRequestWithRetry(ctx, "POST", path, req, &resp, true)
	if err != nil {
		var cdpErr *CDPError
		switch {
		case errors.Is(err, ErrNoWalletSecret):
			return "", fmt.Errorf("%w: %v", x402.ErrSignerUnavailable, err)
		case errors.As(err, &cdpErr) && cdpErr.ErrorType == ErrorTypeNotFound:
			return "", fmt.Errorf("%w: %v", x402.ErrSignerUnavailable, err)
		}
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	if resp.Signature == "" {
		return "", errors.New("sign typed data: CDP returned an empty signature")
	}
	return resp.Signature, nil
}

func (s *Signer) checkLimit(data apitypes.TypedData) error {
	if s.maxAmount == nil || data.PrimaryType != evm.PrimaryType {
		return nil
	}
	raw := fmt.Sprint(data.Message["value"])
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return fmt.Errorf("%w: %q", x402.ErrInvalidAmount, raw)
	}
	if value.Cmp(s.maxAmount) > 0 {
		return fmt.Errorf("amount %s exceeds per-call limit %s", value, s.maxAmount)
	}
	return nil
}
