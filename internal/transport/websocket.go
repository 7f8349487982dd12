package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"funnel/pkg/logging"
)

// WebSocketConn is a bidirectional JSON-RPC connection over a WebSocket.
type WebSocketConn struct {
	serverURL  string
	httpClient *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc
}

// NewWebSocketConn creates a WebSocket connection for the given server URL.
// The URL is validated at construction; http(s) schemes are rewritten to
// their ws(s) equivalents.
func NewWebSocketConn(serverURL string, httpClient *http.Client) (*WebSocketConn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid server URL scheme %q: expected ws, wss, http, or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL: missing host")
	}

	return &WebSocketConn{
		serverURL:  u.String(),
		httpClient: httpClient,
	}, nil
}

// Connect dials the socket and starts the read loop.
func (c *WebSocketConn) Connect(ctx context.Context, headers http.Header, receive func(raw []byte)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	conn, resp, err := websocket.Dial(ctx, c.serverURL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return &HTTPStatusError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "closed")
		return ErrClosed
	}
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(readCtx, conn, receive)
	return nil
}

// readLoop delivers incoming frames until the socket closes.
func (c *WebSocketConn) readLoop(ctx context.Context, conn *websocket.Conn, receive func(raw []byte)) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				logging.Debug("Transport", "WebSocket read loop ended: %v", err)
			}
			return
		}
		receive(data)
	}
}

// WriteMessage writes one JSON-RPC payload as a text frame. Auth headers are
// fixed at dial time for WebSockets, so per-message headers are ignored.
func (c *WebSocketConn) WriteMessage(ctx context.Context, _ http.Header, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	return conn.Write(ctx, websocket.MessageText, payload)
}

// Close shuts the socket down. Idempotent.
func (c *WebSocketConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "transport closed")
	}
	return nil
}
