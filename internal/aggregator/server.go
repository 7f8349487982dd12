package aggregator

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"funnel/internal/config"
	"funnel/pkg/logging"
)

// Server aggregates the tools of every registered upstream behind a single
// MCP endpoint. Tool names are prefixed per upstream so callers always see a
// collision-free surface, and destructive tools are blocked unless yolo mode
// is enabled.
type Server struct {
	cfg     config.AggregatorConfig
	version string

	mcpServer            *server.MCPServer
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer

	names *NameTracker

	mu        sync.RWMutex
	upstreams map[string]*Upstream
	exposed   map[string][]string // upstream name -> exposed tool names
}

// NewServer creates an aggregator server for the given configuration.
func NewServer(cfg config.AggregatorConfig, version string) *Server {
	return &Server{
		cfg:       cfg,
		version:   version,
		names:     NewNameTracker(cfg.ToolPrefix),
		upstreams: make(map[string]*Upstream),
		exposed:   make(map[string][]string),
	}
}

// Start brings up the MCP endpoint on the configured transport. Blocks until
// the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.mcpServer = server.NewMCPServer(
		"funnel",
		s.version,
		server.WithToolCapabilities(true),
	)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	switch s.cfg.Transport {
	case config.TransportSSE:
		s.sseServer = server.NewSSEServer(
			s.mcpServer,
			server.WithBaseURL(fmt.Sprintf("http://%s", addr)),
			server.WithSSEEndpoint("/sse"),
			server.WithMessageEndpoint("/message"),
		)
		logging.Info("Aggregator", "Serving SSE endpoint on %s", addr)
		return s.sseServer.Start(addr)
	case "", config.TransportStreamableHTTP:
		s.streamableHTTPServer = server.NewStreamableHTTPServer(s.mcpServer)
		logging.Info("Aggregator", "Serving streamable HTTP endpoint on %s", addr)
		return s.streamableHTTPServer.Start(addr)
	default:
		return fmt.Errorf("unknown aggregator transport %q", s.cfg.Transport)
	}
}

// Stop shuts the endpoint down and closes every upstream.
func (s *Server) Stop(ctx context.Context) error {
	var firstErr error

	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.streamableHTTPServer != nil {
		if err := s.streamableHTTPServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.mu.Lock()
	upstreams := make([]*Upstream, 0, len(s.upstreams))
	for _, up := range s.upstreams {
		upstreams = append(upstreams, up)
	}
	s.upstreams = make(map[string]*Upstream)
	s.exposed = make(map[string][]string)
	s.mu.Unlock()

	for _, up := range upstreams {
		if err := up.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// RegisterUpstream connects an upstream, lists its tools, and exposes each
// one under its prefixed name.
func (s *Server) RegisterUpstream(ctx context.Context, up *Upstream) error {
	s.mu.Lock()
	if _, exists := s.upstreams[up.Name()]; exists {
		s.mu.Unlock()
		return fmt.Errorf("upstream %q already registered", up.Name())
	}
	s.upstreams[up.Name()] = up
	s.mu.Unlock()

	if err := up.Connect(ctx, s.version); err != nil {
		s.mu.Lock()
		delete(s.upstreams, up.Name())
		s.mu.Unlock()
		return err
	}

	tools, err := up.ListTools(ctx)
	if err != nil {
		s.mu.Lock()
		delete(s.upstreams, up.Name())
		s.mu.Unlock()
		up.Close()
		return err
	}

	exposedNames := make([]string, 0, len(tools))
	for _, tool := range tools {
		exposed := s.names.ExposedToolName(up.Name(), tool.Name)
		exposedNames = append(exposedNames, exposed)

		proxied := tool
		proxied.Name = exposed
		s.mcpServer.AddTool(proxied, s.handleToolCall)
	}

	s.mu.Lock()
	s.exposed[up.Name()] = exposedNames
	s.mu.Unlock()

	logging.Info("Aggregator", "Registered upstream %s with %d tools", up.Name(), len(tools))
	return nil
}

// DeregisterUpstream removes an upstream and its exposed tools.
func (s *Server) DeregisterUpstream(name string) error {
	s.mu.Lock()
	up, ok := s.upstreams[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("upstream %q not registered", name)
	}
	delete(s.upstreams, name)
	exposedNames := s.exposed[name]
	delete(s.exposed, name)
	s.mu.Unlock()

	if len(exposedNames) > 0 {
		s.mcpServer.DeleteTools(exposedNames...)
	}
	s.names.ForgetUpstream(name)

	return up.Close()
}

// handleToolCall routes one aggregated tool invocation to its upstream.
func (s *Server) handleToolCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	exposed := request.Params.Name

	upstreamName, originalName, ok := s.names.ResolveToolName(exposed)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown tool: %s", exposed)), nil
	}

	if !s.cfg.Yolo && isDestructiveTool(originalName) {
		logging.Warn("Aggregator", "Blocked destructive tool %s (upstream %s)", originalName, upstreamName)
		return mcp.NewToolResultError(fmt.Sprintf(
			"tool %s is blocked as destructive; start with --yolo to allow it", originalName)), nil
	}

	s.mu.RLock()
	up, ok := s.upstreams[upstreamName]
	s.mu.RUnlock()
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("upstream %s is not connected", upstreamName)), nil
	}

	return up.CallTool(ctx, originalName, request.GetArguments())
}

// UpstreamCount returns the number of registered upstreams.
func (s *Server) UpstreamCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.upstreams)
}
