package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/iaomarket/x402-go"
	"github.com/iaomarket/x402-go/catalog"
	x402http "github.com/iaomarket/x402-go/http"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

// feeDecimals is the decimals of the catalog payment token (USDC).
const feeDecimals = 6

func callPaidAPITool() mcpproto.Tool {
	return mcpproto.NewTool(
		ToolCallPaidAPI,
		mcpproto.WithDescription("Call a metered API. A 402 Payment Required answer is paid with a signed USDC authorization and the call is retried."),
		mcpproto.WithString("url", mcpproto.Description("Endpoint URL. Either url or token is required.")),
		mcpproto.WithString("token", mcpproto.Description("Token address of a catalog API, as returned by list_apis")),
		mcpproto.WithString("query", mcpproto.Description("Query string, e.g. \"city=paris&units=metric\"")),
		mcpproto.WithString("method", mcpproto.Description("HTTP method, default GET")),
		mcpproto.WithObject("body", mcpproto.Description("JSON request body")),
	)
}

func listAPIsTool() mcpproto.Tool {
	return mcpproto.NewTool(
		ToolListAPIs,
		mcpproto.WithDescription("List pay-per-call APIs from the catalog, most used first."),
		mcpproto.WithNumber("limit", mcpproto.Description("Maximum number of APIs to return")),
		mcpproto.WithBoolean("trending", mcpproto.Description("Only return trending APIs")),
	)
}

func (s *Server) handleCallPaidAPI(ctx context.Context, request mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	args := request.GetArguments()

	query, err := queryArgument(args["query"])
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}

	req, err := s.resolve(ctx, args, query)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}
	if method, ok := args["method"].(string); ok && method != "" {
		req.Method = strings.ToUpper(method)
	}
	if body, ok := args["body"]; ok && body != nil {
		req.Body = body
	}

	s.log.Info("calling paid API", map[string]any{"url": req.URL, "method": req.Method})
	result, err := s.caller.Call(ctx, req)
	if err != nil {
		s.log.Warn("paid API call failed", map[string]any{"url": req.URL, "error": err})
		return mcpproto.NewToolResultError(fmt.Sprintf("%s: %v", x402.CodeOf(err), err)), nil
	}

	return jsonResult(CallResult{
		StatusCode: result.StatusCode,
		Paid:       result.Paid,
		Body:       result.Body,
		Settlement: result.Settlement,
		Payment:    result.Payment,
	})
}

// resolve builds the request from a url or a catalog token address.
func (s *Server) resolve(ctx context.Context, args map[string]any, query url.Values) (x402http.Request, error) {
	rawURL, _ := args["url"].(string)
	token, _ := args["token"].(string)

	switch {
	case token != "":
		if s.catalog == nil {
			return x402http.Request{}, fmt.Errorf("no catalog configured to resolve token %s", token)
		}
		entry, err := s.catalog.ByAddress(ctx, token)
		if err != nil {
			return x402http.Request{}, err
		}
		req := entry.Request(query)
		if rawURL != "" {
			req.URL = rawURL
		}
		return req, nil
	case rawURL != "":
		return x402http.Request{Method: "GET", URL: rawURL, Query: query}, nil
	default:
		return x402http.Request{}, fmt.Errorf("either url or token is required")
	}
}

func (s *Server) handleListAPIs(ctx context.Context, request mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	args := request.GetArguments()

	limit := 0
	if n, ok := args["limit"].(float64); ok {
		limit = int(n)
	}
	trendingOnly, _ := args["trending"].(bool)

	var (
		entries []catalog.Entry
		err     error
	)
	if trendingOnly {
		entries, err = s.catalog.Trending(ctx, limit)
	} else {
		entries, err = s.catalog.All(ctx, limit)
	}
	if err != nil {
		return mcpproto.NewToolResultError(fmt.Sprintf("catalog unavailable: %v", err)), nil
	}

	listings := make([]Listing, 0, len(entries))
	for _, e := range entries {
		if trendingOnly && !e.Trending() {
			continue
		}
		listings = append(listings, Listing{
			Token:    e.ID,
			Name:     e.Name,
			Symbol:   e.Symbol,
			Endpoint: e.Endpoint(),
			Fee:      e.DisplayFee(feeDecimals),
			FeeUnits: e.SubscriptionFee,
			Builder:  e.Builder,
			Usage:    e.UsageCount(),
			Trending: e.Trending(),
		})
	}
	return jsonResult(listings)
}

// queryArgument accepts "a=b&c=d" or a JSON object.
func queryArgument(v any) (url.Values, error) {
	switch q := v.(type) {
	case nil:
		return nil, nil
	case string:
		values, err := url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(q), "?"))
		if err != nil {
			return nil, fmt.Errorf("invalid query: %w", err)
		}
		return values, nil
	case map[string]any:
		values := url.Values{}
		for k, item := range q {
			values.Set(k, fmt.Sprint(item))
		}
		return values, nil
	default:
		return nil, fmt.Errorf("invalid query: expected string or object, got %T", v)
	}
}

func jsonResult(v any) (*mcpproto.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcpproto.NewToolResultText(string(data)), nil
}
