package mcp

import (
	"context"
	"errors"
	"net/http"

	"github.com/iaomarket/x402-go/catalog"
	x402http "github.com/iaomarket/x402-go/http"
	"github.com/iaomarket/x402-go/logger"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Caller performs a paid call. *x402http.Client implements it.
type Caller interface {
	Call(ctx context.Context, req x402http.Request) (*x402http.Result, error)
}

// Server is an MCP server with the pay-per-call tools registered.
type Server struct {
	caller  Caller
	catalog catalog.Source
	mcp     *mcpserver.MCPServer
	log     logger.Logger

	name    string
	version string
}

// Option configures a Server.
type Option func(*Server)

// WithImplementation sets the server name and version reported to MCP clients.
func WithImplementation(name, version string) Option {
	return func(s *Server) {
		s.name = name
		s.version = version
	}
}

// WithLogger sets the logger for tool calls.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer registers call_paid_api and, when source is non-nil, list_apis.
// Tool calls share caller. A single *x402http.Client answers overlapping calls with
// ALREADY_IN_FLIGHT; wrap several clients in a Pool to serve them concurrently.
func NewServer(caller Caller, source catalog.Source, opts ...Option) (*Server, error) {
	if caller == nil {
		return nil, errors.New("mcp: caller must not be nil")
	}

	s := &Server{
		caller:  caller,
		catalog: source,
		log:     logger.NoopLogger{},
		name:    "x402-paycall",
		version: "1.0.0",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcpserver.NewMCPServer(s.name, s.version, mcpserver.WithToolCapabilities(false))
	s.mcp.AddTool(callPaidAPITool(), s.handleCallPaidAPI)
	if source != nil {
		s.mcp.AddTool(listAPIsTool(), s.handleListAPIs)
	}
	return s, nil
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// Handler returns the streamable HTTP transport for the server.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcp)
}

// ServeStdio serves the tools over stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcp)
}
