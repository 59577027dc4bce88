// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sustainable-computing-io/perfevent/internal/manager"
	"github.com/sustainable-computing-io/perfevent/internal/service"
	"github.com/sustainable-computing-io/perfevent/internal/version"
)

// Transport names accepted by NewServer
const (
	TransportStdio      = "stdio"
	TransportSSE        = "sse"
	TransportStreamable = "streamable"
)

// CounterSource is the counter manager as queried by the tools
type CounterSource interface {
	Events() []string
	Derived() []string
	Snapshot() (*manager.Snapshot, error)
}

type APIRegistry interface {
	Register(endpoint, summary, description string, handler http.Handler) error
}

// Server answers Model Context Protocol tool calls about the counters
type Server struct {
	logger      *slog.Logger
	source      CounterSource
	server      *mcp.Server
	apiRegistry APIRegistry
	transport   string
	httpPath    string
}

var (
	_ service.Initializer = (*Server)(nil)
	_ service.Runner      = (*Server)(nil)
)

type Opts struct {
	logger      *slog.Logger
	apiRegistry APIRegistry
	transport   string
	httpPath    string
}

// DefaultOpts returns the default options: stdio transport
func DefaultOpts() Opts {
	return Opts{
		logger:    slog.Default(),
		transport: TransportStdio,
		httpPath:  "/mcp",
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithHTTPTransport serves the protocol on path of the API server, using
// transport "sse" or "streamable"
func WithHTTPTransport(apiRegistry APIRegistry, transport, path string) OptionFn {
	return func(o *Opts) {
		o.apiRegistry = apiRegistry
		o.transport = transport
		o.httpPath = path
	}
}

// NewServer creates the MCP server and its tools
func NewServer(src CounterSource, applyOpts ...OptionFn) (*Server, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	switch opts.transport {
	case TransportStdio:
	case TransportSSE, TransportStreamable:
		if opts.apiRegistry == nil {
			return nil, fmt.Errorf("mcp transport %s needs an API server", opts.transport)
		}
	default:
		return nil, fmt.Errorf("unknown mcp transport: %s", opts.transport)
	}

	s := &Server{
		logger:      opts.logger.With("service", "mcp"),
		source:      src,
		apiRegistry: opts.apiRegistry,
		transport:   opts.transport,
		httpPath:    opts.httpPath,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "perfevent",
			Version: orDev(version.Info().Version),
		}, nil),
	}
	s.registerTools()
	return s, nil
}

func orDev(v string) string {
	if v == "" {
		return "dev"
	}
	return v
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_counters",
		Description: "List the programmed hardware, software and energy events and the derived counters",
	}, s.handleListCounters)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "read_counters",
		Description: "Read the accumulated per-CPU values of the programmed events",
	}, s.handleReadCounters)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "read_derived",
		Description: "Read the current values of the derived counters",
	}, s.handleReadDerived)
}

func (s *Server) Name() string {
	return "mcp"
}

// Init registers the HTTP handler when an HTTP transport is used
func (s *Server) Init() error {
	var handler http.Handler
	getServer := func(*http.Request) *mcp.Server { return s.server }

	switch s.transport {
	case TransportSSE:
		handler = mcp.NewSSEHandler(getServer)
	case TransportStreamable:
		handler = mcp.NewStreamableHTTPHandler(getServer, nil)
	default:
		return nil
	}

	if err := s.apiRegistry.Register(s.httpPath, "MCP", "Model Context Protocol server for counter queries", handler); err != nil {
		return err
	}
	s.logger.Info("Registered MCP handler", "path", s.httpPath, "transport", s.transport)
	return nil
}

// Run serves stdio until ctx is done. HTTP transports are served by the API
// server, so Run only waits.
func (s *Server) Run(ctx context.Context) error {
	if s.transport != TransportStdio {
		<-ctx.Done()
		return nil
	}
	s.logger.Info("Serving MCP on stdio")
	return s.server.Run(ctx, mcp.NewStdioTransport())
}
