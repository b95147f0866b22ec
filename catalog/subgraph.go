package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/iaomarket/x402-go"
	"github.com/iaomarket/x402-go/logger"
)

// DefaultSubgraphURL is the public IAO subgraph.
const DefaultSubgraphURL = "https://api.goldsky.com/api/public/project_cm8plie9y1pjh01yea3kubv4c/subgraphs/IAO/0.0.1/gn"

// Listing limits.
const (
	DefaultLimit         = 100
	DefaultTrendingLimit = 10
	MaxLimit             = 1000
)

// ErrNotFound is returned by ByAddress when the subgraph has no entry for the token.
var ErrNotFound = errors.New("catalog: entry not found")

// QueryError is a failed subgraph query: a non-200 status or a GraphQL errors field.
type QueryError struct {
	StatusCode int
	Errors     json.RawMessage
}

func (e *QueryError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("subgraph errors: %s", e.Errors)
	}
	return fmt.Sprintf("subgraph query failed: %d", e.StatusCode)
}

// Source is a read-only listing of API offerings.
type Source interface {
	All(ctx context.Context, limit int) ([]Entry, error)
	Trending(ctx context.Context, limit int) ([]Entry, error)
	ByAddress(ctx context.Context, address string) (*Entry, error)
}

const entryFields = `id apiUrl builder name symbol subscriptionFee subscriptionTokenAmount paymentToken subscriptionCount`

var (
	listQuery = `query List($first: Int!) {
  iaotokens(first: $first, orderBy: subscriptionCount, orderDirection: desc) { ` + entryFields + ` }
}`
	entryQuery = `query Entry($id: ID!) {
  iaotoken(id: $id) { ` + entryFields + ` }
}`
)

// SubgraphClient queries the IAO subgraph over GraphQL.
type SubgraphClient struct {
	url        string
	httpClient *http.Client
	gateway    string
	log        logger.Logger
}

var _ Source = (*SubgraphClient)(nil)

// Option configures a SubgraphClient.
type Option func(*SubgraphClient)

// WithHTTPClient sets the HTTP client used for queries.
func WithHTTPClient(client *http.Client) Option {
	return func(c *SubgraphClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithGatewayURL routes paid calls through a proxy gateway at {gateway}/api/{token}.
func WithGatewayURL(gateway string) Option {
	return func(c *SubgraphClient) {
		c.gateway = gateway
	}
}

// WithLogger sets the logger. Entries that fail validation are logged and skipped.
func WithLogger(l logger.Logger) Option {
	return func(c *SubgraphClient) {
		if l != nil {
			c.log = l
		}
	}
}

// NewSubgraphClient creates a client for the subgraph at url, or DefaultSubgraphURL when
// url is empty.
func NewSubgraphClient(url string, opts ...Option) *SubgraphClient {
	if url == "" {
		url = DefaultSubgraphURL
	}
	c := &SubgraphClient{
		url:        url,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// All returns up to limit entries ordered by usage, most used first.
func (c *SubgraphClient) All(ctx context.Context, limit int) ([]Entry, error) {
	return c.list(ctx, clampLimit(limit, DefaultLimit))
}

// Trending returns the limit most used entries.
func (c *SubgraphClient) Trending(ctx context.Context, limit int) ([]Entry, error) {
	return c.list(ctx, clampLimit(limit, DefaultTrendingLimit))
}

// ByAddress returns the entry for a token address.
func (c *SubgraphClient) ByAddress(ctx context.Context, address string) (*Entry, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", x402.ErrInvalidAddress, address)
	}

	var data struct {
		IAOToken *Entry `json:"iaotoken"`
	}
	vars := map[string]any{"id": strings.ToLower(address)}
	if err := c.query(ctx, entryQuery, vars, &data); err != nil {
		return nil, err
	}
	if data.IAOToken == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	if err := data.IAOToken.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: invalid entry %s: %w", address, err)
	}
	entry := *data.IAOToken
	entry.gateway = c.gateway
	return &entry, nil
}

func (c *SubgraphClient) list(ctx context.Context, first int) ([]Entry, error) {
	var data struct {
		IAOTokens []Entry `json:"iaotokens"`
	}
	if err := c.query(ctx, listQuery, map[string]any{"first": first}, &data); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(data.IAOTokens))
	for _, e := range data.IAOTokens {
		if err := e.Validate(); err != nil {
			c.log.Warn("skipping invalid catalog entry", map[string]any{"id": e.ID, "error": err})
			continue
		}
		e.gateway = c.gateway
		entries = append(entries, e)
	}
	return entries, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

func (c *SubgraphClient) query(ctx context.Context, query string, vars map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("subgraph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &QueryError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var result graphQLResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Errors) > 0 && string(result.Errors) != "null" {
		return &QueryError{StatusCode: resp.StatusCode, Errors: result.Errors}
	}
	if len(result.Data) == 0 || string(result.Data) == "null" {
		return errors.New("subgraph returned no data")
	}

	c.log.Debug("subgraph query", map[string]any{"bytes": len(body)})
	return json.Unmarshal(result.Data, out)
}

func clampLimit(limit, fallback int) int {
	switch {
	case limit <= 0:
		return fallback
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
