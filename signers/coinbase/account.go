package coinbase

import (
	"context"
	"fmt"
)

const evmAccountsPath = "/platform/v2/evm/accounts"

// CDPAccount is an EVM account held in the Coinbase Developer Platform.
type CDPAccount struct {
	// ID is the CDP-internal account identifier.
	ID string `json:"id"`

	// Address is the 0x-prefixed account address.
	Address string `json:"address"`

	// Network is the CDP network identifier.
	Network string `json:"network"`
}

type createAccountRequest struct {
	NetworkID string `json:"network_id"`
}

type listAccountsResponse struct {
	Accounts []CDPAccount `json:"accounts"`
}

// CreateOrGetAccount returns the account the credentials hold on network, creating one
// when none exists. Repeated calls return the same account.
func CreateOrGetAccount(ctx context.Context, client *CDPClient, network string) (*CDPAccount, error) {
	cdpNetwork, err := CDPNetwork(network)
	if err != nil {
		return nil, err
	}

	var list listAccountsResponse
	if err := client.doRequestWithRetry(ctx, "GET", evmAccountsPath, nil, &list, false); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for _, account := range list.Accounts {
		if account.Network == cdpNetwork {
			account := account
			return &account, nil
		}
	}

	var created CDPAccount
	err = client.doRequestWithRetry(ctx, "POST", evmAccountsPath, createAccountRequest{NetworkID: cdpNetwork}, &created, false)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	switch {
	case created.ID == "":
		return nil, fmt.Errorf("CDP API returned empty account ID")
	case created.Address == "":
		return nil, fmt.Errorf("CDP API returned empty account address")
	}
	return &created, nil
}
