package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"funnel/pkg/logging"
)

// sseEndpointTimeout bounds the wait for the server's endpoint event after
// the stream opens.
const sseEndpointTimeout = 30 * time.Second

// SSEConn is a Server-Sent Events connection: a long-lived GET stream for
// incoming messages and per-message HTTP POSTs to the endpoint the server
// announces in its initial "endpoint" event.
type SSEConn struct {
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	closed      bool
	cancel      context.CancelFunc
	endpointURL string
	endpointCh  chan string
}

// NewSSEConn creates an SSE connection for the given server URL.
// The URL is validated at construction so a malformed endpoint fails fast
// instead of at first connect.
func NewSSEConn(serverURL string, httpClient *http.Client) (*SSEConn, error) {
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

	return &SSEConn{
		baseURL:    serverURL,
		httpClient: httpClient,
		endpointCh: make(chan string, 1),
	}, nil
}

// Connect opens the event stream and waits for the server's endpoint event
// before returning, so WriteMessage has a POST target from the first send.
func (c *SSEConn) Connect(ctx context.Context, headers http.Header, receive func(raw []byte)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create SSE request: %w", err)
	}
	copyHeaders(req.Header, headers)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open SSE stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("SSE stream returned HTTP %d", resp.StatusCode)
	}

	go c.readLoop(resp.Body, receive)

	select {
	case endpoint := <-c.endpointCh:
		c.mu.Lock()
		c.endpointURL = endpoint
		c.mu.Unlock()
		logging.Debug("Transport", "SSE endpoint received: %s", endpoint)
		return nil
	case <-time.After(sseEndpointTimeout):
		c.Close()
		return fmt.Errorf("timed out waiting for SSE endpoint event")
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

// readLoop parses the event stream. The "endpoint" event announces the POST
// target; "message" events (and data-only events) carry JSON-RPC payloads.
func (c *SSEConn) readLoop(body io.ReadCloser, receive func(raw []byte)) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var eventType string
	var data bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data.Len() > 0 {
				c.dispatch(eventType, data.String(), receive)
			}
			eventType = ""
			data.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if data.Len() > 0 {
		c.dispatch(eventType, data.String(), receive)
	}
}

// dispatch routes one complete SSE event.
func (c *SSEConn) dispatch(eventType, data string, receive func(raw []byte)) {
	if eventType == "endpoint" {
		select {
		case c.endpointCh <- c.resolveEndpoint(data):
		default:
		}
		return
	}
	receive([]byte(data))
}

// resolveEndpoint resolves a possibly-relative endpoint against the base URL.
func (c *SSEConn) resolveEndpoint(endpoint string) string {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return endpoint
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return base.ResolveReference(ref).String()
}

// WriteMessage POSTs one JSON-RPC payload to the announced endpoint.
func (c *SSEConn) WriteMessage(ctx context.Context, headers http.Header, payload []byte) error {
	c.mu.Lock()
	endpoint := c.endpointURL
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if endpoint == "" {
		return fmt.Errorf("SSE endpoint not established")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create POST request: %w", err)
	}
	copyHeaders(req.Header, headers)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return &HTTPStatusError{
			StatusCode:      resp.StatusCode,
			WWWAuthenticate: resp.Header.Get("WWW-Authenticate"),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Close cancels the event stream. Idempotent.
func (c *SSEConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// copyHeaders merges src into dst without clobbering multi-value headers.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
