package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// maxResponseBytes caps how much of a reply body is buffered per message.
const maxResponseBytes = 16 << 20

// StreamableHTTPConn implements the streamable HTTP transport: every
// outgoing message is its own POST, and the server replies either on the
// response body as JSON or as a short-lived SSE stream on the same body.
type StreamableHTTPConn struct {
	serverURL  string
	httpClient *http.Client

	mu        sync.Mutex
	closed    bool
	receive   func(raw []byte)
	sessionID string
}

// NewStreamableHTTPConn creates a streamable HTTP connection for the given
// server URL, validated at construction.
func NewStreamableHTTPConn(serverURL string, httpClient *http.Client) (*StreamableHTTPConn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL scheme %q: expected http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL: missing host")
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &StreamableHTTPConn{
		serverURL:  serverURL,
		httpClient: httpClient,
	}, nil
}

// Connect records the receive callback. There is no persistent stream to
// establish; each WriteMessage is a self-contained request/reply exchange.
func (c *StreamableHTTPConn) Connect(_ context.Context, _ http.Header, receive func(raw []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.receive = receive
	return nil
}

// WriteMessage POSTs one JSON-RPC payload and feeds the reply body, JSON or
// SSE framed, back through the receive callback.
func (c *StreamableHTTPConn) WriteMessage(ctx context.Context, headers http.Header, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	receive := c.receive
	sessionID := c.sessionID
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if receive == nil {
		return fmt.Errorf("streamable HTTP transport not connected")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create POST request: %w", err)
	}
	copyHeaders(req.Header, headers)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return &HTTPStatusError{
			StatusCode:      resp.StatusCode,
			WWWAuthenticate: resp.Header.Get("WWW-Authenticate"),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("POST returned HTTP %d", resp.StatusCode)
	}

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	// 202 Accepted acknowledges a notification with no reply body.
	if resp.StatusCode == http.StatusAccepted {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/event-stream") {
		deliverSSEBody(body, receive)
		return nil
	}

	receive(body)
	return nil
}

// deliverSSEBody extracts the data payloads from an SSE-framed reply body.
func deliverSSEBody(body []byte, receive func(raw []byte)) {
	var data bytes.Buffer
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			if data.Len() > 0 {
				receive(append([]byte(nil), data.Bytes()...))
				data.Reset()
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if data.Len() > 0 {
		receive(data.Bytes())
	}
}

// Close marks the connection closed. Idempotent; there is no persistent
// stream to tear down.
func (c *StreamableHTTPConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.receive = nil
	return nil
}
