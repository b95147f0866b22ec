package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iaomarket/x402-go"
	"github.com/iaomarket/x402-go/encoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_NonPaymentRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "short and stout")
	}))
	defer server.Close()

	gw := &fakeGateway{account: "0xPAYER", sig: "0xSIG"}
	client := newTestClient(t, gw).HTTPClient()

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "short and stout", string(body))
	assert.Zero(t, gw.calls.Load())
}

func TestTransport_PaymentRequired(t *testing.T) {
	settlement, err := encoding.EncodeSettlement(x402.SettlementResponse{Success: true, Transaction: "0xtx", Network: "base"})
	require.NoError(t, err)

	p, server := newPaywall(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set(x402.PaymentResponseHeader, settlement)
		_, _ = w.Write(body)
	})

	client := newTestClient(t, &fakeGateway{account: "0xPAYER", sig: "0xSIG"}).HTTPClient()

	resp, err := client.Post(server.URL+"/api", "application/json", strings.NewReader(`{"q":"echo"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"q":"echo"}`, string(body), "the request body is replayed on the paid retry")

	s := GetSettlement(resp)
	require.NotNil(t, s)
	assert.Equal(t, "0xtx", s.Transaction)

	probes, paid := p.counts()
	assert.Equal(t, 1, probes)
	assert.Equal(t, 1, paid)
}

func TestTransport_PaymentFailureIsAnError(t *testing.T) {
	_, server := newPaywall(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusPaymentRequired)
	})
	client := newTestClient(t, &fakeGateway{account: "0xPAYER", sig: "0xSIG"}).HTTPClient()

	_, err := client.Get(server.URL + "/api")
	assert.ErrorIs(t, err, x402.ErrSettlementFailed)
}

func TestTransport_ContextDefaults(t *testing.T) {
	p, server := newPaywall(t, okJSON(`{}`))
	p.challenge = `{}`

	c := newTestClient(t, &fakeGateway{account: "0xPAYER", sig: "0xSIG"})
	ctx := ContextWithDefaults(context.Background(), ChallengeDefaults{Receiver: "0xRECEIVER", Amount: "42"})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api", nil)
	require.NoError(t, err)

	resp, err := c.HTTPClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	proof, err := encoding.DecodeProof(p.proof(0))
	require.NoError(t, err)
	assert.Equal(t, "42", proof.Payload.Authorization.Value)
	assert.Equal(t, "0xRECEIVER", proof.Payload.Authorization.To)
}

func TestGetSettlement(t *testing.T) {
	assert.Nil(t, GetSettlement(nil))
	assert.Nil(t, GetSettlement(&http.Response{Header: http.Header{}}))

	invalid := &http.Response{Header: http.Header{}}
	invalid.Header.Set(x402.PaymentResponseHeader, "not-valid-base64!!!")
	assert.Nil(t, GetSettlement(invalid))
}
