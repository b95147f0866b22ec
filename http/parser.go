package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/iaomarket/x402-go"
)

// ChallengeDefaults are the values a challenge falls back to when the server omits them.
// The caller usually knows them from the catalog listing of the endpoint.
type ChallengeDefaults struct {
	// Receiver is the payee used when the challenge has no payTo.
	Receiver string

	// Asset is the token used when the challenge has no asset. Defaults to USDC on Base.
	Asset string

	// Amount is the atomic amount used when the challenge has no usable maxAmountRequired.
	Amount string
}

// ParseChallenge decodes a 402 body into a payment requirement.
// It never fails: a missing body, invalid JSON or an empty accepts list yields the
// defaults, and each missing field of accepts[0] falls back on its own.
func ParseChallenge(body []byte, defaults ChallengeDefaults) x402.PaymentRequirement {
	req, _ := parseChallenge(body, defaults)
	return req
}

// ParseChallengeResponse reads and closes resp.Body and parses it as a challenge.
func ParseChallengeResponse(resp *http.Response, defaults ChallengeDefaults) x402.PaymentRequirement {
	if resp == nil || resp.Body == nil {
		return ParseChallenge(nil, defaults)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		body = nil
	}
	return ParseChallenge(body, defaults)
}

// parseChallenge also reports which fields fell back to defaults.
func parseChallenge(body []byte, defaults ChallengeDefaults) (x402.PaymentRequirement, []string) {
	req := x402.PaymentRequirement{
		Scheme:            x402.DefaultScheme,
		Network:           x402.DefaultNetwork,
		PayTo:             defaults.Receiver,
		Asset:             defaults.Asset,
		MaxAmountRequired: defaults.Amount,
		ProtocolVersion:   x402.ProtocolVersion,
	}
	if req.Asset == "" {
		req.Asset = x402.BaseMainnet.USDCAddress
	}

	var envelope struct {
		X402Version json.RawMessage   `json:"x402Version"`
		Accepts     []json.RawMessage `json:"accepts"`
	}
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &envelope) != nil || len(envelope.Accepts) == 0 {
		return req, []string{"accepts"}
	}

	var fallbacks []string
	if v, ok := intField(envelope.X402Version); ok && v > 0 {
		req.ProtocolVersion = v
	} else {
		fallbacks = append(fallbacks, "x402Version")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(envelope.Accepts[0], &fields); err != nil {
		return req, append(fallbacks, "accepts[0]")
	}

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"scheme", &req.Scheme},
		{"network", &req.Network},
		{"payTo", &req.PayTo},
		{"asset", &req.Asset},
	} {
		if s, ok := stringField(fields[f.name]); ok && s != "" {
			*f.dst = s
		} else {
			fallbacks = append(fallbacks, f.name)
		}
	}

	if amount, ok := amountField(fields["maxAmountRequired"]); ok {
		req.MaxAmountRequired = amount
	} else {
		fallbacks = append(fallbacks, "maxAmountRequired")
	}

	req.Resource, _ = stringField(fields["resource"])
	req.Description, _ = stringField(fields["description"])
	req.MimeType, _ = stringField(fields["mimeType"])
	req.MaxTimeoutSeconds, _ = intField(fields["maxTimeoutSeconds"])

	if raw, ok := fields["extra"]; ok {
		var extra map[string]interface{}
		if json.Unmarshal(raw, &extra) == nil && len(extra) > 0 {
			req.Extra = extra
		}
	}

	return req, fallbacks
}

func stringField(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func intField(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// amountField accepts a decimal-integer string or a bare JSON integer, keeping its
// exact digits.
func amountField(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	if s, ok := stringField(raw); ok {
		s = strings.TrimSpace(s)
		return s, x402.IsUintString(s)
	}
	s := string(bytes.TrimSpace(raw))
	return s, x402.IsUintString(s)
}
