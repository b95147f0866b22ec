package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/iaomarket/x402-go"
)

// Transport is an http.RoundTripper that runs the pay-per-call protocol for plain
// *http.Request values. It shares the single-flight session of its Client, so
// concurrent requests through one Transport fail with ErrAlreadyInFlight.
type Transport struct {
	client *Client
}

// Transport returns a RoundTripper bound to c.
func (c *Client) Transport() *Transport {
	return &Transport{client: c}
}

// HTTPClient returns a standard library client whose requests are paid through c.
// Do not pass it back to WithHTTPClient on the same Client.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c.Transport()}
}

type defaultsKey struct{}

// ContextWithDefaults attaches challenge defaults to requests sent through a Transport.
func ContextWithDefaults(ctx context.Context, d ChallengeDefaults) context.Context {
	return context.WithValue(ctx, defaultsKey{}, d)
}

func defaultsFrom(ctx context.Context) ChallengeDefaults {
	d, _ := ctx.Value(defaultsKey{}).(ChallengeDefaults)
	return d
}

// RoundTrip implements http.RoundTripper.
// Responses that never reached the payment step are returned as-is, whatever their
// status. Failures of the payment itself are returned as classified errors.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	tmpl := &template{
		method:   req.Method,
		url:      req.URL.String(),
		header:   req.Header.Clone(),
		body:     body,
		defaults: defaultsFrom(req.Context()),
	}
	if tmpl.header == nil {
		tmpl.header = make(http.Header)
	}

	ex, err := t.client.do(req.Context(), tmpl)
	if err != nil {
		if ex != nil && !ex.paid && x402.CodeOf(err) == x402.ErrCodeUpstreamAPI {
			return ex.response(req), nil
		}
		return nil, err
	}
	return ex.response(req), nil
}

func (e *exchange) response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.status, http.StatusText(e.status)),
		StatusCode:    e.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.header,
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Request:       req,
	}
}

// GetSettlement extracts settlement information from an HTTP response.
// Returns nil if no settlement header is present or if parsing fails.
func GetSettlement(resp *http.Response) *x402.SettlementResponse {
	if resp == nil {
		return nil
	}
	value := resp.Header.Get(x402.PaymentResponseHeader)
	if value == "" {
		return nil
	}
	settlement, err := decodeSettlement(value)
	if err != nil {
		return nil
	}
	return settlement
}
