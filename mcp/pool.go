package mcp

import (
	"context"
	"errors"

	"github.com/iaomarket/x402-go"
	x402http "github.com/iaomarket/x402-go/http"
)

// Pool spreads tool calls over a fixed set of callers. An *x402http.Client runs one
// payment at a time, so overlapping agent calls need one client each.
type Pool struct {
	idle chan Caller
}

// NewPool creates a pool that runs at most len(callers) calls at once.
func NewPool(callers ...Caller) (*Pool, error) {
	if len(callers) == 0 {
		return nil, errors.New("mcp: pool needs at least one caller")
	}
	p := &Pool{idle: make(chan Caller, len(callers))}
	for _, c := range callers {
		if c == nil {
			return nil, errors.New("mcp: pool caller must not be nil")
		}
		p.idle <- c
	}
	return p, nil
}

// Size returns the number of callers in the pool.
func (p *Pool) Size() int {
	return cap(p.idle)
}

// Call waits for a free caller and runs req on it.
func (p *Pool) Call(ctx context.Context, req x402http.Request) (*x402http.Result, error) {
	select {
	case c := <-p.idle:
		defer func() { p.idle <- c }()
		return c.Call(ctx, req)
	case <-ctx.Done():
		return nil, x402.NewPaymentError(x402.ErrCodeUnknownProtocol, "waiting for a free payment client", ctx.Err())
	}
}
