// Package server exposes the capability registry to remote MCP clients over
// streaming HTTP.
//
// The MCP wire grammar is consumed from the official SDK rather than
// implemented here: every registered tool and resource is bridged onto an
// mcp.Server, which is then served at /mcp (Streamable HTTP) and /sse
// (legacy SSE) on the configured listen address. Each client call runs on
// its own goroutine courtesy of net/http, so one slow companion round-trip
// never stalls other sessions.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/standardbeagle/brdg/internal/protocol"
	"github.com/standardbeagle/brdg/internal/registry"
)

// Config holds configuration for the streaming server.
type Config struct {
	Logger   *zap.Logger
	Registry *registry.Registry
	HostInfo protocol.HostInfo

	// Addr is the listen address, e.g. ":9333".
	Addr string
}

// Server terminates remote MCP client connections and delegates calls to
// the registry.
type Server struct {
	logger   *zap.Logger
	reg      *registry.Registry
	hostInfo protocol.HostInfo
	addr     string

	mcpServer *mcp.Server
	httpSrv   *http.Server
	lnAddr    net.Addr
	running   atomic.Bool
}

// New creates the server and bridges the registry's current capability set
// onto the MCP server. The registry must be fully populated first.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.HostInfo.Name,
			Version: cfg.HostInfo.Version,
		},
		&mcp.ServerOptions{
			HasTools:     true,
			HasResources: true,
			Instructions: "Browser bridge host. Tools are executed inside the companion " +
				"browser extension; resources expose current browser and DOM state.",
		},
	)

	s := &Server{
		logger:    logger,
		reg:       cfg.Registry,
		hostInfo:  cfg.HostInfo,
		addr:      cfg.Addr,
		mcpServer: mcpServer,
	}

	for _, t := range cfg.Registry.Tools() {
		s.addTool(t)
	}
	for _, r := range cfg.Registry.Resources() {
		s.addResource(r)
	}

	return s, nil
}

// Start binds the listen address and begins serving in the background. A
// bind failure is returned synchronously; it is a fatal startup error for
// the process.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}

	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)
	sse := mcp.NewSSEHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamable)
	mux.Handle("/sse", sse)

	s.httpSrv = &http.Server{Handler: mux}
	s.lnAddr = ln.Addr()
	s.running.Store(true)

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("streaming server failed", zap.Error(err))
		}
		s.running.Store(false)
	}()

	s.logger.Info("streaming server listening",
		zap.String("addr", s.addr),
		zap.Int("tools", len(s.reg.Tools())),
		zap.Int("resources", len(s.reg.Resources())))
	return nil
}

// Shutdown stops accepting new connections and drains in-flight calls until
// ctx expires. Calls still waiting on the companion are failed separately by
// the lifecycle coordinator, not severed here.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Info("streaming server shutting down")
	return s.httpSrv.Shutdown(ctx)
}

// Close force-closes the listener and any remaining connections. Used when
// a graceful drain cannot finish, typically because idle event-stream
// sessions are still attached.
func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

// Addr returns the bound listener address; nil before Start.
func (s *Server) Addr() net.Addr {
	return s.lnAddr
}

// Running reports whether the listener is serving.
func (s *Server) Running() bool {
	return s.running.Load()
}

// addTool bridges one registry tool onto the MCP server.
func (s *Server) addTool(t registry.Tool) {
	s.mcpServer.AddTool(&mcp.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.InputSchema(),
	}, s.toolHandler(t))
}

// addResource bridges one registry resource onto the MCP server.
func (s *Server) addResource(r registry.Resource) {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         r.URI(),
		Name:        r.Name(),
		MIMEType:    r.MIMEType(),
		Description: r.Description(),
	}, s.resourceHandler())
}

func (s *Server) toolHandler(t registry.Tool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodeArguments(req.Params.Arguments)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		s.logger.Debug("tool call", zap.String("tool", t.Name()))

		result, err := t.Call(ctx, args)
		if err != nil {
			// Per-call failures go back to the individual caller as a
			// structured error result; they never crash the host.
			s.logger.Warn("tool call failed", zap.String("tool", t.Name()), zap.Error(err))
			return errorResult(fmt.Sprintf("%s failed: %v", t.Name(), err)), nil
		}

		content := make([]mcp.Content, 0, len(result.Content))
		for _, item := range result.Content {
			content = append(content, &mcp.TextContent{Text: item.Text})
		}
		return &mcp.CallToolResult{Content: content}, nil
	}
}

// resourceHandler serves reads through the registry so URI prefix matching
// stays in one place.
func (s *Server) resourceHandler() mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		uri := req.Params.URI
		s.logger.Debug("resource read", zap.String("uri", uri))

		content, err := s.reg.ReadResource(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", uri, err)
		}

		contents := make([]*mcp.ResourceContents, 0, len(content.Items))
		for _, item := range content.Items {
			contents = append(contents, &mcp.ResourceContents{
				URI:      item.URI,
				MIMEType: item.MIMEType,
				Text:     item.Text,
			})
		}
		return &mcp.ReadResourceResult{Contents: contents}, nil
	}
}

// decodeArguments normalizes the SDK's raw argument payload to a map. The
// SDK hands untyped handlers a json.RawMessage; marshal-then-unmarshal also
// tolerates already-decoded maps.
func decodeArguments(v any) (map[string]any, error) {
	args := make(map[string]any)
	if v == nil {
		return args, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
