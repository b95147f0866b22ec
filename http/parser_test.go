package http

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/iaomarket/x402-go"
	"github.com/stretchr/testify/assert"
)

var testDefaults = ChallengeDefaults{
	Receiver: "0xRECEIVER",
	Asset:    "0xDEFAULTASSET",
	Amount:   "500",
}

func TestParseChallenge_FullAccepts(t *testing.T) {
	body := `{
		"x402Version": 1,
		"error": "X-PAYMENT header is required",
		"accepts": [{
			"scheme": "exact",
			"network": "base-sepolia",
			"payTo": "0xPAY",
			"asset": "0xUSDC",
			"maxAmountRequired": "123456789012345678901234567890",
			"resource": "https://api.example.com/data",
			"description": "Premium data",
			"mimeType": "application/json",
			"maxTimeoutSeconds": 60,
			"extra": {"name": "USDC", "version": "2"}
		}, {
			"scheme": "exact",
			"network": "base",
			"payTo": "0xOTHER",
			"asset": "0xOTHER",
			"maxAmountRequired": "1"
		}]
	}`

	req, fallbacks := parseChallenge([]byte(body), testDefaults)

	assert.Empty(t, fallbacks)
	assert.Equal(t, x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           "base-sepolia",
		PayTo:             "0xPAY",
		Asset:             "0xUSDC",
		MaxAmountRequired: "123456789012345678901234567890",
		Resource:          "https://api.example.com/data",
		Description:       "Premium data",
		MimeType:          "application/json",
		MaxTimeoutSeconds: 60,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
		ProtocolVersion:   1,
	}, req)
}

func TestParseChallenge_FallsBackToDefaults(t *testing.T) {
	want := x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           "base",
		PayTo:             "0xRECEIVER",
		Asset:             "0xDEFAULTASSET",
		MaxAmountRequired: "500",
		ProtocolVersion:   1,
	}

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"whitespace body", "  \n"},
		{"invalid json", "{not json"},
		{"html error page", "<html>Payment Required</html>"},
		{"json array", "[1,2,3]"},
		{"no accepts", `{"x402Version":1,"error":"payment required"}`},
		{"empty accepts", `{"x402Version":1,"accepts":[]}`},
		{"null accepts", `{"accepts":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, want, ParseChallenge([]byte(tt.body), testDefaults))
			})
		})
	}
}

func TestParseChallenge_DefaultAssetIsBaseUSDC(t *testing.T) {
	req := ParseChallenge(nil, ChallengeDefaults{Receiver: "0xR", Amount: "1"})
	assert.Equal(t, x402.BaseMainnet.USDCAddress, req.Asset)
}

func TestParseChallenge_PerFieldFallback(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		check     func(*testing.T, x402.PaymentRequirement)
		fallbacks []string
	}{
		{
			name: "missing payTo and asset",
			body: `{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","maxAmountRequired":"10000"}]}`,
			check: func(t *testing.T, r x402.PaymentRequirement) {
				assert.Equal(t, "0xRECEIVER", r.PayTo)
				assert.Equal(t, "0xDEFAULTASSET", r.Asset)
				assert.Equal(t, "10000", r.MaxAmountRequired)
			},
			fallbacks: []string{"payTo", "asset"},
		},
		{
			name: "missing scheme and network",
			body: `{"x402Version":1,"accepts":[{"payTo":"0xPAY","asset":"0xUSDC","maxAmountRequired":"1"}]}`,
			check: func(t *testing.T, r x402.PaymentRequirement) {
				assert.Equal(t, "exact", r.Scheme)
				assert.Equal(t, "base", r.Network)
				assert.Equal(t, "0xPAY", r.PayTo)
			},
			fallbacks: []string{"scheme", "network"},
		},
		{
			name: "missing version",
			body: `{"accepts":[{"scheme":"exact","network":"base","payTo":"0xPAY","asset":"0xUSDC","maxAmountRequired":"1"}]}`,
			check: func(t *testing.T, r x402.PaymentRequirement) {
				assert.Equal(t, 1, r.ProtocolVersion)
			},
			fallbacks: []string{"x402Version"},
		},
		{
			name: "decimal amount replaced by default",
			body: `{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","payTo":"0xPAY","asset":"0xUSDC","maxAmountRequired":"0.01"}]}`,
			check: func(t *testing.T, r x402.PaymentRequirement) {
				assert.Equal(t, "500", r.MaxAmountRequired)
			},
			fallbacks: []string{"maxAmountRequired"},
		},
		{
			name: "negative amount replaced by default",
			body: `{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","payTo":"0xPAY","asset":"0xUSDC","maxAmountRequired":"-5"}]}`,
			check: func(t *testing.T, r x402.PaymentRequirement) {
				assert.Equal(t, "500", r.MaxAmountRequired)
			},
			fallbacks: []string{"maxAmountRequired"},
		},
		{
			name: "numeric amount keeps its digits",
			body: `{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","payTo":"0xPAY","asset":"0xUSDC","maxAmountRequired":99999999999999999999999}]}`,
			check: func(t *testing.T, r x402.PaymentRequirement) {
				assert.Equal(t, "99999999999999999999999", r.MaxAmountRequired)
			},
		},
		{
			name: "wrong field types",
			body: `{"x402Version":"one","accepts":[{"scheme":7,"network":null,"payTo":"0xPAY","asset":"0xUSDC","maxAmountRequired":"1","extra":"nope"}]}`,
			check: func(t *testing.T, r x402.PaymentRequirement) {
				assert.Equal(t, "exact", r.Scheme)
				assert.Equal(t, "base", r.Network)
				assert.Equal(t, 1, r.ProtocolVersion)
				assert.Nil(t, r.Extra)
			},
			fallbacks: []string{"x402Version", "scheme", "network"},
		},
		{
			name: "newer protocol version",
			body: `{"x402Version":2,"accepts":[{"scheme":"exact","network":"base","payTo":"0xPAY","asset":"0xUSDC","maxAmountRequired":"1"}]}`,
			check: func(t *testing.T, r x402.PaymentRequirement) {
				assert.Equal(t, 2, r.ProtocolVersion)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, fallbacks := parseChallenge([]byte(tt.body), testDefaults)
			tt.check(t, req)
			assert.Equal(t, tt.fallbacks, fallbacks)
		})
	}
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestParseChallengeResponse(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader(
		`{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","payTo":"0xPAY","asset":"0xUSDC","maxAmountRequired":"10000"}]}`,
	)}
	resp := &http.Response{StatusCode: http.StatusPaymentRequired, Body: body}

	req := ParseChallengeResponse(resp, testDefaults)

	assert.Equal(t, "0xPAY", req.PayTo)
	assert.Equal(t, "10000", req.MaxAmountRequired)
	assert.True(t, body.closed)

	assert.Equal(t, "0xRECEIVER", ParseChallengeResponse(nil, testDefaults).PayTo)
}
