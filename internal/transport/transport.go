package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"funnel/pkg/logging"
	pkgoauth "funnel/pkg/oauth"
)

// ErrClosed rejects operations on a closed transport. Close is terminal:
// a closed transport never reconnects.
var ErrClosed = errors.New("Transport is closed")

// errNotStarted rejects sends before Start.
var errNotStarted = errors.New("transport not started")

// HTTPStatusError reports a non-success HTTP status from a wire write.
// The message carries the numeric status so auth-failure detection works
// across transport types. For 401 responses the server's WWW-Authenticate
// header rides along so the Bearer challenge can drive the auth flow.
type HTTPStatusError struct {
	StatusCode      int
	WWWAuthenticate string
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Challenge parses the Bearer challenge attached to the error, or nil when
// the server sent none.
func (e *HTTPStatusError) Challenge() *pkgoauth.AuthChallenge {
	if e.WWWAuthenticate == "" {
		return nil
	}
	challenge, err := pkgoauth.ParseWWWAuthenticate(e.WWWAuthenticate)
	if err != nil {
		return nil
	}
	return challenge
}

// AuthProvider supplies Authorization headers for outgoing messages.
// Implemented by the internal/oauth Manager.
type AuthProvider interface {
	GetHeaders(ctx context.Context) (http.Header, error)
}

// AuthRefresher is implemented by providers that can force a token refresh
// after an authorization failure. The transport invokes it at most once per
// send before retrying the write.
type AuthRefresher interface {
	ForceRefresh(ctx context.Context) error
}

// Conn is the transport-specific connection managed by a Transport.
// Implementations supply only connection establishment and raw message I/O;
// lifecycle, correlation, and auth live in the Transport.
type Conn interface {
	// Connect establishes the underlying connection and delivers every
	// incoming raw message to receive until Close.
	Connect(ctx context.Context, headers http.Header, receive func(raw []byte)) error

	// WriteMessage writes one raw JSON-RPC payload to the wire.
	WriteMessage(ctx context.Context, headers http.Header, payload []byte) error

	// Close tears down the underlying connection. Must be idempotent.
	Close() error
}

// lifecycleState is the transport lifecycle.
type lifecycleState int

const (
	stateNotStarted lifecycleState = iota
	stateStarted
	stateClosed
)

// Option configures a Transport.
type Option func(*Transport)

// WithAuthProvider attaches an auth-header provider. Headers are fetched
// before every send; a 401-class write failure triggers one refresh-and-retry.
func WithAuthProvider(provider AuthProvider) Option {
	return func(t *Transport) {
		t.auth = provider
	}
}

// WithRequestTimeout sets the per-request correlation timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.requestTimeout = timeout
	}
}

// Transport is the base JSON-RPC client transport: a lifecycle state machine
// orchestrating connect, send, and receive across a Correlator and an
// injected auth-header provider. Concrete connections (SSE, WebSocket,
// streamable HTTP) plug in via the Conn interface.
type Transport struct {
	conn           Conn
	auth           AuthProvider
	requestTimeout time.Duration
	correlator     *Correlator

	mu        sync.Mutex
	state     lifecycleState
	subs      map[int]func(*Message)
	nextSubID int
}

// New creates a transport over the given connection.
func New(conn Conn, opts ...Option) *Transport {
	t := &Transport{
		conn:           conn,
		requestTimeout: DefaultRequestTimeout,
		subs:           make(map[int]func(*Message)),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.correlator = NewCorrelator(t.requestTimeout)
	return t
}

// Start connects the underlying transport. Start is idempotent: a second
// call is a no-op and does not reconnect. Starting a closed transport fails.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case stateStarted:
		t.mu.Unlock()
		return nil
	case stateClosed:
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	headers, err := t.authHeaders(ctx)
	if err != nil {
		return err
	}

	if err := t.conn.Connect(ctx, headers, t.handleIncoming); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	t.mu.Lock()
	// Close may have raced the connect; tear the connection back down.
	if t.state == stateClosed {
		t.mu.Unlock()
		t.conn.Close()
		return ErrClosed
	}
	t.state = stateStarted
	t.mu.Unlock()

	return nil
}

// Call sends a request and blocks until the matching response arrives, the
// request times out, or the transport closes. A fresh id is generated for
// the request; responses correlate by id, so out-of-order replies settle the
// right caller.
func (t *Transport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	msg, err := NewRequest(GenerateID(), method, params)
	if err != nil {
		return nil, err
	}
	return t.Send(ctx, msg)
}

// Send transmits a message. Requests (method plus id) are registered with
// the correlator and block until settled. Notifications and outgoing
// responses are written to the wire without correlation state and return a
// nil result.
//
// A closed transport rejects immediately without attempting any I/O.
func (t *Transport) Send(ctx context.Context, msg *Message) (json.RawMessage, error) {
	t.mu.Lock()
	switch t.state {
	case stateClosed:
		t.mu.Unlock()
		return nil, ErrClosed
	case stateNotStarted:
		t.mu.Unlock()
		return nil, errNotStarted
	}
	t.mu.Unlock()

	if msg.JSONRPC == "" {
		msg.JSONRPC = jsonRPCVersion
	}

	// Notifications and responses go straight to the wire.
	if !msg.IsRequest() {
		return nil, t.write(ctx, msg)
	}

	ch, err := t.correlator.Register(msg.ID)
	if err != nil {
		if errors.Is(err, ErrTransportClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}

	if err := t.write(ctx, msg); err != nil {
		t.correlator.Deregister(msg.ID)
		return nil, err
	}

	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		t.correlator.Deregister(msg.ID)
		return nil, ctx.Err()
	}
}

// write marshals and writes one message, refreshing auth and retrying
// exactly once on a 401-class failure. It never loops on repeated 401s.
func (t *Transport) write(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers, err := t.authHeaders(ctx)
	if err != nil {
		return err
	}

	writeErr := t.conn.WriteMessage(ctx, headers, payload)
	if writeErr == nil || !pkgoauth.Is401Error(writeErr) {
		return writeErr
	}

	refresher, ok := t.auth.(AuthRefresher)
	if !ok {
		logAuthChallenge(writeErr)
		return writeErr
	}

	logging.Debug("Transport", "Received 401, refreshing token and retrying once")
	if err := refresher.ForceRefresh(ctx); err != nil {
		return fmt.Errorf("auth refresh after 401 failed: %w", err)
	}

	headers, err = t.authHeaders(ctx)
	if err != nil {
		return err
	}

	retryErr := t.conn.WriteMessage(ctx, headers, payload)
	if retryErr != nil && pkgoauth.Is401Error(retryErr) {
		logAuthChallenge(retryErr)
	}
	return retryErr
}

// logAuthChallenge reports the server's Bearer challenge parameters when a
// 401 cannot be resolved by a refresh, so the operator can see which issuer
// and scope the upstream demands before running an interactive login.
func logAuthChallenge(err error) {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return
	}
	challenge := statusErr.Challenge()
	if !challenge.IsOAuthChallenge() {
		return
	}
	logging.Warn("Transport", "Server requires OAuth authorization (issuer %q, scope %q)",
		challenge.GetIssuer(), challenge.Scope)
}

// authHeaders fetches current auth headers, or an empty set when no
// provider is configured.
func (t *Transport) authHeaders(ctx context.Context) (http.Header, error) {
	if t.auth == nil {
		return http.Header{}, nil
	}
	return t.auth.GetHeaders(ctx)
}

// handleIncoming parses one raw wire message and routes it. Responses settle
// their pending request via the correlator; requests and notifications fan
// out to subscribers. A parse failure affects only the broken message.
func (t *Transport) handleIncoming(raw []byte) {
	msg, err := ParseMessage(raw)
	if err != nil {
		logging.Warn("Transport", "Dropping malformed incoming message: %v", err)
		return
	}

	if msg.IsResponse() {
		t.correlator.Resolve(msg)
		return
	}

	t.mu.Lock()
	handlers := make([]func(*Message), 0, len(t.subs))
	for _, fn := range t.subs {
		handlers = append(handlers, fn)
	}
	t.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

// Subscribe registers an observer for incoming requests and notifications.
// The returned function unsubscribes; it is safe to call more than once.
func (t *Transport) Subscribe(fn func(*Message)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextSubID
	t.nextSubID++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of registered observers.
func (t *Transport) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close tears down the transport. Close is terminal and idempotent: every
// pending request is rejected with "Transport closed", all timers are
// stopped, and subscribers are released, so repeated connect/close cycles
// leak nothing.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = stateClosed
	t.subs = make(map[int]func(*Message))
	t.mu.Unlock()

	err := t.conn.Close()
	t.correlator.CloseAll()
	return err
}

// PendingRequests returns the number of in-flight correlated requests.
func (t *Transport) PendingRequests() int {
	return t.correlator.PendingCount()
}
