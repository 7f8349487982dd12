package transport

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIDFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{13}_[a-f0-9]{8}$`)

	seen := make(map[MessageID]bool)
	for i := 0; i < 100; i++ {
		id := GenerateID()
		assert.Regexp(t, pattern, string(id))
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestCorrelatorResolvesByID(t *testing.T) {
	c := NewCorrelator(time.Second)

	ch1, err := c.Register("req-1")
	require.NoError(t, err)
	ch2, err := c.Register("req-2")
	require.NoError(t, err)
	ch3, err := c.Register("req-3")
	require.NoError(t, err)
	assert.Equal(t, 3, c.PendingCount())

	// Responses arrive out of order; each settles its own caller.
	c.Resolve(&Message{JSONRPC: "2.0", ID: "req-3", Result: json.RawMessage(`"three"`)})
	c.Resolve(&Message{JSONRPC: "2.0", ID: "req-1", Result: json.RawMessage(`"one"`)})
	c.Resolve(&Message{JSONRPC: "2.0", ID: "req-2", Result: json.RawMessage(`"two"`)})

	assert.Equal(t, `"one"`, string((<-ch1).result))
	assert.Equal(t, `"two"`, string((<-ch2).result))
	assert.Equal(t, `"three"`, string((<-ch3).result))
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelatorErrorResponse(t *testing.T) {
	c := NewCorrelator(time.Second)

	ch, err := c.Register("req-1")
	require.NoError(t, err)

	c.Resolve(&Message{
		JSONRPC: "2.0",
		ID:      "req-1",
		Error:   &ErrorObject{Code: -32601, Message: "Method not found"},
	})

	o := <-ch
	require.Error(t, o.err)
	assert.Equal(t, "JSON-RPC error -32601: Method not found", o.err.Error())
}

func TestCorrelatorTimeout(t *testing.T) {
	c := NewCorrelator(100 * time.Millisecond)

	ch, err := c.Register("req-1")
	require.NoError(t, err)

	select {
	case o := <-ch:
		require.Error(t, o.err)
		assert.Equal(t, "Request timeout after 100ms", o.err.Error())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}

	// The timed-out entry is cleaned up.
	assert.Equal(t, 0, c.PendingCount())

	// A late response for the timed-out id is silently dropped.
	c.Resolve(&Message{JSONRPC: "2.0", ID: "req-1", Result: json.RawMessage(`"late"`)})
}

func TestCorrelatorUnmatchedResponseDropped(t *testing.T) {
	c := NewCorrelator(time.Second)

	// No pending request: resolving must be a silent no-op.
	c.Resolve(&Message{JSONRPC: "2.0", ID: "unknown", Result: json.RawMessage(`{}`)})
	assert.Equal(t, 0, c.PendingCount())
}

func TestCorrelatorDuplicateID(t *testing.T) {
	c := NewCorrelator(time.Second)

	_, err := c.Register("req-1")
	require.NoError(t, err)
	_, err = c.Register("req-1")
	assert.Error(t, err)
}

func TestCorrelatorCloseAll(t *testing.T) {
	c := NewCorrelator(time.Hour)

	ch1, err := c.Register("req-1")
	require.NoError(t, err)
	ch2, err := c.Register("req-2")
	require.NoError(t, err)

	c.CloseAll()

	assert.ErrorIs(t, (<-ch1).err, ErrTransportClosed)
	assert.ErrorIs(t, (<-ch2).err, ErrTransportClosed)
	assert.Equal(t, 0, c.PendingCount())

	// Closed correlators refuse new registrations.
	_, err = c.Register("req-3")
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestCorrelatorDeregister(t *testing.T) {
	c := NewCorrelator(time.Second)

	_, err := c.Register("req-1")
	require.NoError(t, err)
	c.Deregister("req-1")
	assert.Equal(t, 0, c.PendingCount())

	// Deregistering an unknown id is a no-op.
	c.Deregister("req-404")
}
