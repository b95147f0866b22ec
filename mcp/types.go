// Package mcp exposes the pay-per-call client and the API catalog as Model Context
// Protocol tools, so an agent can discover metered APIs and pay for calls.
package mcp

import (
	"encoding/json"

	"github.com/iaomarket/x402-go"
)

// Tool names.
const (
	ToolCallPaidAPI = "call_paid_api"
	ToolListAPIs    = "list_apis"
)

// CallResult is the JSON document returned by call_paid_api.
type CallResult struct {
	StatusCode int                      `json:"status"`
	Paid       bool                     `json:"paid"`
	Body       json.RawMessage          `json:"body,omitempty"`
	Settlement *x402.SettlementResponse `json:"settlement,omitempty"`
	Payment    json.RawMessage          `json:"payment,omitempty"`
}

// Listing is one API in the document returned by list_apis.
type Listing struct {
	Token    string `json:"token"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Endpoint string `json:"endpoint"`
	Fee      string `json:"fee"`
	FeeUnits string `json:"feeAtomic"`
	Builder  string `json:"builder"`
	Usage    int64  `json:"usage"`
	Trending bool   `json:"trending"`
}
