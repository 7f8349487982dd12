package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// jsonRPCVersion is the only protocol version accepted on the wire.
const jsonRPCVersion = "2.0"

// ErrInvalidFormat is returned for messages that parse as JSON but do not
// declare jsonrpc "2.0".
var ErrInvalidFormat = errors.New("Invalid JSON-RPC format")

// ErrorObject is the JSON-RPC error payload.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Message is a JSON-RPC 2.0 message: request, notification, or response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      MessageID       `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// MessageID is a JSON-RPC id. Funnel generates string ids, but servers may
// echo numeric ids, so both decode to the same correlation key.
type MessageID string

// UnmarshalJSON accepts both string and number ids.
func (id *MessageID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = MessageID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers and everything else as strings,
// so servers that round-trip ids see what they sent.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// NewRequest builds a JSON-RPC request message. An empty id is assigned by
// the correlator at send time.
func NewRequest(id MessageID, method string, params interface{}) (*Message, error) {
	msg := &Message{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
	}

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = raw
	}

	return msg, nil
}

// NewNotification builds a JSON-RPC notification (a request without an id,
// which expects no response).
func NewNotification(method string, params interface{}) (*Message, error) {
	return NewRequest("", method, params)
}

// IsRequest reports whether the message is a request expecting a response.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != ""
}

// IsNotification reports whether the message is a notification.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == ""
}

// IsResponse reports whether the message is a response to an earlier request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && (m.Result != nil || m.Error != nil)
}

// ParseMessage parses raw wire text into a Message, enforcing minimal
// JSON-RPC shape validation. A parse failure on one message must never crash
// the transport, so both failure modes come back as ordinary errors with
// stable messages.
func ParseMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("Failed to parse message: %w", err)
	}

	if msg.JSONRPC != jsonRPCVersion {
		return nil, ErrInvalidFormat
	}

	return &msg, nil
}
