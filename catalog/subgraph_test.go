package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/iaomarket/x402-go"
	"github.com/iaomarket/x402-go/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeSubgraph records queries and answers with a canned response.
type fakeSubgraph struct {
	mu       sync.Mutex
	requests []graphQLRequest
	status   int
	response any
}

func (f *fakeSubgraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(f.response)
}

func (f *fakeSubgraph) last(t *testing.T) graphQLRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newFakeSubgraph(t *testing.T, response any) (*fakeSubgraph, *httptest.Server) {
	f := &fakeSubgraph{response: response}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return f, server
}

func listResponse(entries ...Entry) map[string]any {
	return map[string]any{"data": map[string]any{"iaotokens": entries}}
}

func TestNewSubgraphClientDefaults(t *testing.T) {
	c := NewSubgraphClient("")
	assert.Equal(t, DefaultSubgraphURL, c.url)
	assert.NotNil(t, c.httpClient)
}

func TestAll(t *testing.T) {
	second := validEntry()
	second.ID = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	second.SubscriptionCount = "3"
	f, server := newFakeSubgraph(t, listResponse(validEntry(), second))

	c := NewSubgraphClient(server.URL)
	entries, err := c.All(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Weather", entries[0].Name)
	assert.Equal(t, second.ID, entries[1].ID)

	req := f.last(t)
	assert.Contains(t, req.Query, "iaotokens(first: $first, orderBy: subscriptionCount, orderDirection: desc)")
	for _, field := range []string{"apiUrl", "builder", "subscriptionFee", "subscriptionTokenAmount", "paymentToken", "subscriptionCount"} {
		assert.Contains(t, req.Query, field)
	}
	assert.EqualValues(t, DefaultLimit, req.Variables["first"])
}

func TestTrendingLimits(t *testing.T) {
	f, server := newFakeSubgraph(t, listResponse())
	c := NewSubgraphClient(server.URL)

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultTrendingLimit},
		{-5, DefaultTrendingLimit},
		{3, 3},
		{5000, MaxLimit},
	}
	for _, tt := range tests {
		entries, err := c.Trending(context.Background(), tt.limit)
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.EqualValues(t, tt.want, f.last(t).Variables["first"], "limit %d", tt.limit)
	}
}

func TestAllSkipsInvalidEntries(t *testing.T) {
	bad := validEntry()
	bad.SubscriptionFee = "free"
	_, server := newFakeSubgraph(t, listResponse(bad, validEntry()))

	core, logs := observer.New(zapcore.WarnLevel)
	c := NewSubgraphClient(server.URL, WithLogger(logger.NewZapLoggerFrom(zap.New(core))))

	entries, err := c.All(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10000", entries[0].SubscriptionFee)
	assert.Equal(t, 1, logs.FilterMessage("skipping invalid catalog entry").Len())
}

func TestByAddress(t *testing.T) {
	entry := validEntry()
	f, server := newFakeSubgraph(t, map[string]any{"data": map[string]any{"iaotoken": entry}})
	c := NewSubgraphClient(server.URL, WithGatewayURL("https://gw.example.com"))

	got, err := c.ByAddress(context.Background(), "0x209693Bc6afc0C5328bA36FaF03C514EF312287C")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, "https://gw.example.com/api/"+entry.ID, got.Endpoint())

	req := f.last(t)
	assert.Contains(t, req.Query, "iaotoken(id: $id)")
	assert.Equal(t, "0x209693bc6afc0c5328ba36faf03c514ef312287c", req.Variables["id"])
}

func TestByAddressErrors(t *testing.T) {
	t.Run("invalid address", func(t *testing.T) {
		c := NewSubgraphClient("http://127.0.0.1:0")
		_, err := c.ByAddress(context.Background(), "weather")
		assert.ErrorIs(t, err, x402.ErrInvalidAddress)
	})

	t.Run("not found", func(t *testing.T) {
		_, server := newFakeSubgraph(t, map[string]any{"data": map[string]any{"iaotoken": nil}})
		_, err := NewSubgraphClient(server.URL).ByAddress(context.Background(), validEntry().ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid entry", func(t *testing.T) {
		bad := validEntry()
		bad.APIURL = ""
		_, server := newFakeSubgraph(t, map[string]any{"data": map[string]any{"iaotoken": bad}})
		_, err := NewSubgraphClient(server.URL).ByAddress(context.Background(), bad.ID)
		assert.ErrorContains(t, err, "invalid entry")
	})
}

func TestQueryErrors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		f, server := newFakeSubgraph(t, nil)
		f.status = http.StatusBadGateway

		_, err := NewSubgraphClient(server.URL).All(context.Background(), 1)
		var qerr *QueryError
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, http.StatusBadGateway, qerr.StatusCode)
		assert.EqualError(t, err, "subgraph query failed: 502")
	})

	t.Run("graphql errors", func(t *testing.T) {
		_, server := newFakeSubgraph(t, map[string]any{
			"errors": []map[string]any{{"message": "indexer down"}},
		})
		_, err := NewSubgraphClient(server.URL).All(context.Background(), 1)
		var qerr *QueryError
		require.ErrorAs(t, err, &qerr)
		assert.Contains(t, err.Error(), "indexer down")
	})

	t.Run("no data", func(t *testing.T) {
		_, server := newFakeSubgraph(t, map[string]any{"data": nil})
		_, err := NewSubgraphClient(server.URL).All(context.Background(), 1)
		assert.ErrorContains(t, err, "no data")
	})

	t.Run("cancelled", func(t *testing.T) {
		_, server := newFakeSubgraph(t, listResponse())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewSubgraphClient(server.URL).All(ctx, 1)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
