package transport

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultRequestTimeout is the default per-request timeout.
const DefaultRequestTimeout = 30 * time.Second

// ErrTransportClosed rejects every request still pending when the transport
// closes. The message is stable so callers and tests can match on it.
var ErrTransportClosed = errors.New("Transport closed")

// outcome is the settlement of one pending request.
type outcome struct {
	result []byte
	err    error
}

// pendingRequest tracks one in-flight request until a matching response,
// error, timeout, or transport close settles it.
type pendingRequest struct {
	id        MessageID
	ch        chan outcome
	timestamp time.Time
	timer     *time.Timer
}

// Correlator maps outgoing JSON-RPC request ids to pending requests and
// settles them when matching responses arrive, in any order. All map
// mutations happen synchronously under the mutex, at registration and at
// settlement, so no two mutations interleave.
type Correlator struct {
	mu      sync.Mutex
	pending map[MessageID]*pendingRequest
	timeout time.Duration
	closed  bool
}

// NewCorrelator creates a correlator with the given per-request timeout.
// A non-positive timeout selects DefaultRequestTimeout.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Correlator{
		pending: make(map[MessageID]*pendingRequest),
		timeout: timeout,
	}
}

// GenerateID returns a unique request id: millisecond timestamp plus an
// 8-hex-character random suffix, collision-resistant for the lifetime of a
// transport.
func GenerateID() MessageID {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand is effectively infallible; fall back to the clock
		// so id generation itself can never fail a send.
		return MessageID(fmt.Sprintf("%d_%08x", time.Now().UnixMilli(), time.Now().UnixNano()&0xffffffff))
	}
	return MessageID(fmt.Sprintf("%d_%s", time.Now().UnixMilli(), hex.EncodeToString(suffix)))
}

// Register creates a pending entry for the given request id and arms its
// timeout timer. The returned channel receives exactly one outcome.
// Registering a duplicate id or registering after close is an error.
func (c *Correlator) Register(id MessageID) (<-chan outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrTransportClosed
	}
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("duplicate request id: %s", id)
	}

	p := &pendingRequest{
		id:        id,
		ch:        make(chan outcome, 1),
		timestamp: time.Now(),
	}
	p.timer = time.AfterFunc(c.timeout, func() {
		c.settle(id, outcome{err: fmt.Errorf("Request timeout after %dms", c.timeout.Milliseconds())})
	})
	c.pending[id] = p

	return p.ch, nil
}

// Resolve settles the pending request matching the response's id.
// Responses correlate purely by id, never by send order. A response with no
// matching pending entry is silently dropped: it may be an unsolicited
// notification or a reply that already timed out.
func (c *Correlator) Resolve(msg *Message) {
	if msg.Error != nil {
		c.settle(msg.ID, outcome{err: fmt.Errorf("JSON-RPC error %d: %s", msg.Error.Code, msg.Error.Message)})
		return
	}
	c.settle(msg.ID, outcome{result: msg.Result})
}

// Deregister removes a pending entry without settling it, e.g. when the
// wire write failed after registration.
func (c *Correlator) Deregister(id MessageID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[id]; ok {
		p.timer.Stop()
		delete(c.pending, id)
	}
}

// CloseAll rejects every still-pending request with ErrTransportClosed,
// stops their timers, and refuses future registrations. No timers or
// channels survive the sweep.
func (c *Correlator) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for id, p := range c.pending {
		p.timer.Stop()
		p.ch <- outcome{err: ErrTransportClosed}
		delete(c.pending, id)
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// settle delivers the outcome for id exactly once: the entry is removed
// under the mutex before the channel send, so a racing timeout and response
// cannot both deliver.
func (c *Correlator) settle(id MessageID, o outcome) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		p.timer.Stop()
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		p.ch <- o
	}
}
