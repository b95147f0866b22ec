package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/iaomarket/x402-go"
	"github.com/iaomarket/x402-go/catalog"
	"github.com/iaomarket/x402-go/evm"
	x402http "github.com/iaomarket/x402-go/http"
	"github.com/iaomarket/x402-go/logger"
	"github.com/iaomarket/x402-go/metrics"
	"github.com/iaomarket/x402-go/signers/coinbase"
)

type walletFlags struct {
	key       string
	keystore  string
	password  string
	mnemonic  string
	index     uint
	cdp       bool
	network   string
	maxAmount string
}

func registerWalletFlags(fs *flag.FlagSet) *walletFlags {
	wf := &walletFlags{}
	fs.StringVar(&wf.key, "key", os.Getenv("X402_PRIVATE_KEY"), "Hex private key")
	fs.StringVar(&wf.keystore, "keystore", os.Getenv("X402_KEYSTORE"), "Encrypted keystore file")
	fs.StringVar(&wf.password, "password", os.Getenv("X402_KEYSTORE_PASSWORD"), "Keystore password")
	fs.StringVar(&wf.mnemonic, "mnemonic", os.Getenv("X402_MNEMONIC"), "BIP-39 mnemonic")
	fs.UintVar(&wf.index, "account", 0, "Account index for -mnemonic (m/44'/60'/0'/0/i)")
	fs.BoolVar(&wf.cdp, "cdp", false, "Sign with a Coinbase Developer Platform wallet (CDP_* environment)")
	fs.StringVar(&wf.network, "network", x402.DefaultNetwork, "Network of the CDP account")
	fs.StringVar(&wf.maxAmount, "max-amount", "", "Refuse to sign more than this many atomic units per call")
	return wf
}

// gateway returns nil when no key source is configured; paid calls then fail as
// wallet-not-connected while free calls still work.
func (wf *walletFlags) gateway(ctx context.Context) (x402.SignatureGateway, error) {
	if wf.cdp {
		opts := []coinbase.SignerOption{coinbase.WithCDPCredentialsFromEnv(), coinbase.WithNetwork(wf.network)}
		if wf.maxAmount != "" {
			opts = append(opts, coinbase.WithMaxAmountPerCall(wf.maxAmount))
		}
		return coinbase.NewSigner(ctx, opts...)
	}

	var source evm.WalletOption
	switch {
	case wf.key != "":
		source = evm.WithPrivateKey(wf.key)
	case wf.keystore != "":
		source = evm.WithKeystore(wf.keystore, wf.password)
	case wf.mnemonic != "":
		source = evm.WithMnemonic(wf.mnemonic, uint32(wf.index))
	default:
		return nil, nil
	}

	opts := []evm.WalletOption{source}
	if wf.maxAmount != "" {
		opts = append(opts, evm.WithMaxAmountPerCall(wf.maxAmount))
	}
	return evm.NewWallet(opts...)
}

type clientFlags struct {
	settlementDelay time.Duration
	attempts        int
	deadline        time.Duration
	window          time.Duration
	timeout         time.Duration
	strict          bool
	logLevel        string
}

func registerClientFlags(fs *flag.FlagSet) *clientFlags {
	defaults := x402http.DefaultConfig()
	cf := &clientFlags{}
	fs.DurationVar(&cf.settlementDelay, "settlement-delay", defaults.Settlement.InitialDelay, "Wait between signing and the paid retry")
	fs.IntVar(&cf.attempts, "attempts", defaults.Settlement.MaxAttempts, "Paid submissions while the server answers 402 or 5xx")
	fs.DurationVar(&cf.deadline, "deadline", defaults.Settlement.Deadline, "Overall settlement budget (0 for none)")
	fs.DurationVar(&cf.window, "validity", defaults.ValidityWindow, "Authorization validity window")
	fs.DurationVar(&cf.timeout, "timeout", defaults.RequestTimeout, "HTTP request timeout")
	fs.BoolVar(&cf.strict, "strict", defaults.StrictRequirements, "Reject challenges with unknown networks or malformed addresses")
	fs.StringVar(&cf.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cf
}

func (cf *clientFlags) config() x402http.Config {
	cfg := x402http.DefaultConfig()
	cfg.Settlement.InitialDelay = cf.settlementDelay
	cfg.Settlement.MaxAttempts = cf.attempts
	cfg.Settlement.Deadline = cf.deadline
	cfg.ValidityWindow = cf.window
	cfg.RequestTimeout = cf.timeout
	cfg.StrictRequirements = cf.strict
	return cfg
}

type catalogFlags struct {
	subgraph string
	gateway  string
}

func registerCatalogFlags(fs *flag.FlagSet) *catalogFlags {
	cat := &catalogFlags{}
	fs.StringVar(&cat.subgraph, "subgraph", envOr("X402_SUBGRAPH_URL", catalog.DefaultSubgraphURL), "Catalog subgraph URL")
	fs.StringVar(&cat.gateway, "gateway", os.Getenv("X402_GATEWAY_URL"), "Proxy gateway for catalog APIs ({gateway}/api/{token})")
	return cat
}

func (cat *catalogFlags) client(log logger.Logger) *catalog.SubgraphClient {
	return catalog.NewSubgraphClient(cat.subgraph, catalog.WithGatewayURL(cat.gateway), catalog.WithLogger(log))
}

func newPaymentClient(ctx context.Context, wf *walletFlags, cf *clientFlags, log logger.Logger, recorder metrics.Recorder) (*x402http.Client, error) {
	clients, err := newPaymentClients(ctx, wf, cf, log, recorder, 1)
	if err != nil {
		return nil, err
	}
	return clients[0], nil
}

// newPaymentClients builds n clients sharing one wallet, so up to n calls can pay at once.
func newPaymentClients(ctx context.Context, wf *walletFlags, cf *clientFlags, log logger.Logger, recorder metrics.Recorder, n int) ([]*x402http.Client, error) {
	if n < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", n)
	}

	gateway, err := wf.gateway(ctx)
	if err != nil {
		return nil, err
	}
	if gateway == nil {
		log.Warn("no wallet configured; paid calls will fail", nil)
	} else {
		log.Info("wallet connected", map[string]any{"address": gateway.Address()})
	}

	clients := make([]*x402http.Client, 0, n)
	for i := 0; i < n; i++ {
		client, err := x402http.NewClient(gateway,
			x402http.WithConfig(cf.config()),
			x402http.WithLogger(log),
			x402http.WithMetrics(recorder),
		)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
