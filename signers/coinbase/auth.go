package coinbase

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// Token lifetimes accepted by the CDP API.
const (
	bearerTokenTTL     = 2 * time.Minute
	walletAuthTokenTTL = time.Minute
)

var (
	// ErrNoCredentials is returned when a signer is built without CDP API credentials.
	ErrNoCredentials = errors.New("coinbase: CDP credentials not provided")

	// ErrNoWalletSecret is returned when a signing request is made without a wallet secret.
	ErrNoWalletSecret = errors.New("coinbase: wallet secret not configured")
)

// CDPAuth issues the JWTs that authenticate CDP API requests.
//
// A Bearer token authenticates every request. Signing endpoints additionally require an
// X-Wallet-Auth token bound to the request body hash. CDPAuth is immutable and safe for
// concurrent use.
type CDPAuth struct {
	apiKeyName   string
	walletSecret string
	privateKey   interface{}
	now          func() time.Time
}

// APIKeyClaims are the JWT claims expected by the CDP API.
type APIKeyClaims struct {
	*jwt.Claims
	// URI is "{METHOD} api.cdp.coinbase.com{path}".
	URI string `json:"uri"`
	// ReqHash is the hex-encoded hash of the request body, set on wallet auth tokens.
	ReqHash string `json:"reqHash,omitempty"`
}

// NewCDPAuth parses a PEM-encoded EC (SEC1 or PKCS8) or Ed25519 key.
// walletSecret may be empty for accounts that need no wallet authentication.
func NewCDPAuth(apiKeyName, apiKeySecret, walletSecret string) (*CDPAuth, error) {
	if apiKeyName == "" {
		return nil, fmt.Errorf("%w: apiKeyName must not be empty", ErrNoCredentials)
	}

	block, _ := pem.Decode([]byte(apiKeySecret))
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block: invalid PEM format")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	var key interface{} = privateKey
	if err != nil {
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	switch key.(type) {
	case *ecdsa.PrivateKey, crypto.Signer:
	default:
		return nil, fmt.Errorf("unsupported private key type: must be ECDSA or Ed25519")
	}

	return &CDPAuth{
		apiKeyName:   apiKeyName,
		walletSecret: walletSecret,
		privateKey:   key,
		now:          time.Now,
	}, nil
}

// GenerateBearerToken returns a two-minute token for the Authorization header.
func (a *CDPAuth) GenerateBearerToken(method, path string) (string, error) {
	return a.generateJWT(method, path, nil, bearerTokenTTL)
}

// GenerateWalletAuthToken returns a one-minute token for the X-Wallet-Auth header,
// bound to body. The body is hashed here so callers pass the exact bytes they send.
func (a *CDPAuth) GenerateWalletAuthToken(method, path string, body []byte) (string, error) {
	if a.walletSecret == "" {
		return "", ErrNoWalletSecret
	}
	var digest []byte
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		digest = sum[:]
	}
	return a.generateJWT(method, path, digest, walletAuthTokenTTL)
}

func (a *CDPAuth) generateJWT(method, path string, bodyHash []byte, ttl time.Duration) (string, error) {
	alg := jose.EdDSA
	if _, ok := a.privateKey.(*ecdsa.PrivateKey); ok {
		alg = jose.ES256
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: a.privateKey},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", a.apiKeyName),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}

	now := a.now()
	claims := &APIKeyClaims{
		Claims: &jwt.Claims{
			Subject:   a.apiKeyName,
			Issuer:    "coinbase-cloud",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(ttl)),
		},
		URI: fmt.Sprintf("%s api.cdp.coinbase.com%s", method, path),
	}
	if len(bodyHash) > 0 {
		claims.ReqHash = hex.EncodeToString(bodyHash)
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}
