package coinbase

import (
	"fmt"

	"github.com/iaomarket/x402-go"
)

// cdpNetworks maps x402 network identifiers to CDP network identifiers.
// Only EVM networks with USDC EIP-3009 support are listed.
var cdpNetworks = map[string]string{
	x402.BaseMainnet.NetworkID:      "base-mainnet",
	x402.BaseSepolia.NetworkID:      "base-sepolia",
	x402.EthereumMainnet.NetworkID:  "ethereum-mainnet",
	x402.PolygonMainnet.NetworkID:   "polygon-mainnet",
	x402.PolygonAmoy.NetworkID:      "polygon-amoy",
	x402.AvalancheMainnet.NetworkID: "avalanche-mainnet",
	x402.AvalancheFuji.NetworkID:    "avalanche-fuji",
}

// CDPNetwork returns the CDP network identifier for an x402 network.
func CDPNetwork(network string) (string, error) {
	id, ok := cdpNetworks[network]
	if !ok {
		return "", fmt.Errorf("%w: %q", x402.ErrUnsupportedNetwork, network)
	}
	return id, nil
}
