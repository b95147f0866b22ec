// Command paycall calls pay-per-call APIs, lists the API catalog, and serves both as
// MCP tools.
//
// Usage:
//
//	paycall call [flags] <url>     - Call an endpoint, paying a 402 challenge if needed
//	paycall list [flags]           - List catalog APIs
//	paycall mcp [flags]            - Serve MCP tools over stdio, or HTTP with -http
//
// Wallet flags fall back to X402_PRIVATE_KEY, X402_KEYSTORE, X402_KEYSTORE_PASSWORD and
// X402_MNEMONIC. A .env file in the working directory is loaded first.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/iaomarket/x402-go"
	"github.com/iaomarket/x402-go/catalog"
	x402http "github.com/iaomarket/x402-go/http"
	"github.com/iaomarket/x402-go/logger"
	"github.com/iaomarket/x402-go/mcp"
	"github.com/iaomarket/x402-go/metrics"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "call":
		err = runCall(ctx, os.Args[2:])
	case "list":
		err = runList(ctx, os.Args[2:])
	case "mcp":
		err = runMCP(ctx, os.Args[2:])
	default:
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("paycall - x402 pay-per-call client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  paycall call [flags] <url>  - Call an endpoint, paying if it answers 402")
	fmt.Println("  paycall list [flags]        - List APIs from the catalog")
	fmt.Println("  paycall mcp [flags]         - Serve call_paid_api and list_apis as MCP tools")
	fmt.Println()
	fmt.Println("Run 'paycall <command> -h' for flags.")
}

func runCall(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	wf := registerWalletFlags(fs)
	cf := registerClientFlags(fs)
	cat := registerCatalogFlags(fs)
	token := fs.String("token", "", "Catalog token address to call instead of a URL")
	query := fs.String("query", "", "Query string, e.g. \"city=paris\"")
	method := fs.String("method", "", "HTTP method (default GET, or POST with -data)")
	data := fs.String("data", "", "JSON request body")
	_ = fs.Parse(args)

	if fs.NArg() == 0 && *token == "" {
		fs.Usage()
		return errors.New("a URL or -token is required")
	}

	values, err := url.ParseQuery(*query)
	if err != nil {
		return fmt.Errorf("invalid -query: %w", err)
	}

	log := logger.NewZapLogger(cf.logLevel)
	defer logger.Sync(log)

	client, err := newPaymentClient(ctx, wf, cf, log, metrics.NoopRecorder{})
	if err != nil {
		return err
	}

	req := x402http.Request{URL: fs.Arg(0), Query: values, Method: *method}
	if *token != "" {
		entry, err := cat.client(log).ByAddress(ctx, *token)
		if err != nil {
			return err
		}
		req = entry.Request(values)
		req.Method = *method
		if fs.NArg() > 0 {
			req.URL = fs.Arg(0)
		}
	}
	if *data != "" {
		req.Body = json.RawMessage(*data)
	}

	result, err := client.Call(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", x402.CodeOf(err), err)
	}
	return printJSON(mcp.CallResult{
		StatusCode: result.StatusCode,
		Paid:       result.Paid,
		Body:       result.Body,
		Settlement: result.Settlement,
		Payment:    result.Payment,
	})
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cat := registerCatalogFlags(fs)
	limit := fs.Int("limit", catalog.DefaultLimit, "Maximum number of APIs")
	trending := fs.Bool("trending", false, "Most used APIs only")
	asJSON := fs.Bool("json", false, "Print JSON")
	logLevel := fs.String("log-level", "warn", "Log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	log := logger.NewZapLogger(*logLevel)
	defer logger.Sync(log)

	source := cat.client(log)
	var (
		entries []catalog.Entry
		err     error
	)
	if *trending {
		entries, err = source.Trending(ctx, *limit)
	} else {
		entries, err = source.All(ctx, *limit)
	}
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(entries)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tNAME\tSYMBOL\tFEE\tUSAGE\tENDPOINT")
	for _, e := range entries {
		name := e.Name
		if e.Trending() {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", e.ID, name, e.Symbol, e.DisplayFee(6), e.UsageCount(), e.Endpoint())
	}
	return w.Flush()
}

func runMCP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	wf := registerWalletFlags(fs)
	cf := registerClientFlags(fs)
	cat := registerCatalogFlags(fs)
	addr := fs.String("http", "", "Serve streamable HTTP on this address instead of stdio (e.g. :8080)")
	concurrency := fs.Int("concurrency", 4, "Paid calls that may run at once")
	_ = fs.Parse(args)

	log := logger.NewZapLogger(cf.logLevel)
	defer logger.Sync(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(reg)

	clients, err := newPaymentClients(ctx, wf, cf, log, recorder, *concurrency)
	if err != nil {
		return err
	}
	callers := make([]mcp.Caller, len(clients))
	for i, c := range clients {
		callers[i] = c
	}
	pool, err := mcp.NewPool(callers...)
	if err != nil {
		return err
	}

	srv, err := mcp.NewServer(pool, cat.client(log), mcp.WithLogger(log))
	if err != nil {
		return err
	}

	if *addr == "" {
		return srv.ServeStdio()
	}
	return serveHTTP(ctx, *addr, newRouter(srv.Handler(), reg), log)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
