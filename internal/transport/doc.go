// Package transport implements the JSON-RPC client transports funnel uses to
// talk to upstream MCP servers.
//
// A Transport owns the lifecycle state machine (not-started, started,
// closed) and a Correlator that matches asynchronous responses to their
// originating requests by id. Concrete connection types supply only
// connection establishment and raw message I/O:
//
//   - SSEConn: Server-Sent Events stream with HTTP POST for outgoing messages
//   - WebSocketConn: bidirectional socket via github.com/coder/websocket
//   - StreamableHTTPConn: one HTTP POST per message, response on the reply body
//
// An optional AuthProvider (typically the internal/oauth Manager) supplies
// Authorization headers per send; on a 401-class failure the transport
// forces one token refresh and retries the write exactly once.
package transport
