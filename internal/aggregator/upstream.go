package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"funnel/internal/config"
	"funnel/internal/transport"
	"funnel/pkg/logging"
)

// Upstream is one connected upstream MCP server, reached through a funnel
// transport. It speaks just enough of the MCP handshake and tool surface for
// aggregation: initialize, tools/list, and tools/call.
type Upstream struct {
	name      string
	transport *transport.Transport
}

// NewUpstream builds the transport stack for one configured upstream.
// The auth provider is optional; when present it is attached to the
// transport so every send carries a fresh Authorization header.
func NewUpstream(cfg config.UpstreamConfig, auth transport.AuthProvider, httpClient *http.Client) (*Upstream, error) {
	var conn transport.Conn
	var err error

	switch cfg.Transport {
	case config.TransportSSE:
		conn, err = transport.NewSSEConn(cfg.URL, httpClient)
	case config.TransportWebSocket:
		conn, err = transport.NewWebSocketConn(cfg.URL, httpClient)
	case "", config.TransportStreamableHTTP:
		conn, err = transport.NewStreamableHTTPConn(cfg.URL, httpClient)
	default:
		err = fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", cfg.Name, err)
	}

	opts := []transport.Option{}
	if auth != nil {
		opts = append(opts, transport.WithAuthProvider(auth))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, transport.WithRequestTimeout(time.Duration(cfg.Timeout)*time.Second))
	}

	return &Upstream{
		name:      cfg.Name,
		transport: transport.New(conn, opts...),
	}, nil
}

// Name returns the configured upstream name.
func (u *Upstream) Name() string {
	return u.name
}

// Connect starts the transport and runs the MCP initialize handshake.
func (u *Upstream) Connect(ctx context.Context, clientVersion string) error {
	if err := u.transport.Start(ctx); err != nil {
		return fmt.Errorf("upstream %s: %w", u.name, err)
	}

	params := mcp.InitializeRequest{}
	params.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	params.Params.ClientInfo = mcp.Implementation{
		Name:    "funnel",
		Version: clientVersion,
	}

	if _, err := u.transport.Call(ctx, "initialize", params.Params); err != nil {
		return fmt.Errorf("upstream %s: initialize failed: %w", u.name, err)
	}

	if notif, err := transport.NewNotification("notifications/initialized", nil); err == nil {
		if _, err := u.transport.Send(ctx, notif); err != nil {
			logging.Warn("Aggregator", "Upstream %s: initialized notification failed: %v", u.name, err)
		}
	}

	logging.Info("Aggregator", "Connected to upstream %s", u.name)
	return nil
}

// ListTools fetches the upstream's tool list.
func (u *Upstream) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	raw, err := u.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: tools/list failed: %w", u.name, err)
	}

	var result struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("upstream %s: invalid tools/list result: %w", u.name, err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool on the upstream with its original (unprefixed)
// name.
func (u *Upstream) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	params := map[string]interface{}{
		"name": toolName,
	}
	if args != nil {
		params["arguments"] = args
	}

	raw, err := u.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: tools/call %s failed: %w", u.name, toolName, err)
	}

	jsonRaw := json.RawMessage(raw)
	result, err := mcp.ParseCallToolResult(&jsonRaw)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: invalid tools/call result: %w", u.name, err)
	}
	return result, nil
}

// Close tears the transport down. Idempotent.
func (u *Upstream) Close() error {
	return u.transport.Close()
}
