package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Version is the Pusher protocol revision spoken by the client and the broker.
const Version = 7

// EventName identifies a frame on the wire
type EventName string

// Connection-level events
const (
	EventConnectionEstablished EventName = "pusher:connection_established"
	EventError                 EventName = "pusher:error"
	EventPing                  EventName = "pusher:ping"
	EventPong                  EventName = "pusher:pong"
)

// Channel-level events
const (
	EventSubscribe                     EventName = "pusher:subscribe"
	EventUnsubscribe                   EventName = "pusher:unsubscribe"
	EventInternalSubscriptionSucceeded EventName = "pusher_internal:subscription_succeeded"
	EventSubscriptionSucceeded         EventName = "pusher:subscription_succeeded"
	EventSubscriptionError             EventName = "pusher:subscription_error"
)

// String returns the string representation of the EventName
func (e EventName) String() string {
	return string(e)
}

// IsReserved reports whether the name belongs to the protocol namespace
// rather than to application payloads.
func (e EventName) IsReserved() bool {
	s := string(e)
	return strings.HasPrefix(s, "pusher:") || strings.HasPrefix(s, "pusher_internal:")
}

// Message is a single protocol frame. Data sent by the server is a JSON
// encoded string wrapping the real payload; data sent by clients is a plain
// object. Payload handles both.
type Message struct {
	Event   EventName       `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Payload returns the frame data with one level of string encoding removed.
func (m *Message) Payload() json.RawMessage {
	if len(m.Data) == 0 || m.Data[0] != '"' {
		return m.Data
	}
	var inner string
	if err := json.Unmarshal(m.Data, &inner); err != nil {
		return m.Data
	}
	return json.RawMessage(inner)
}

// Decode parses a raw frame.
func Decode(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("decode frame: missing event name")
	}
	return &msg, nil
}

// NewServerMessage builds a server-to-client frame with string-encoded data.
func NewServerMessage(event EventName, channel string, payload interface{}) ([]byte, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	wrapped, err := json.Marshal(string(inner))
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: event, Channel: channel, Data: wrapped})
}

// NewClientMessage builds a client-to-server frame with object data.
func NewClientMessage(event EventName, channel string, payload interface{}) ([]byte, error) {
	msg := Message{Event: event, Channel: channel}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// Message data structures for the protocol events

type ConnectionEstablishedData struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type SubscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

type UnsubscribeData struct {
	Channel string `json:"channel"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

type SubscriptionErrorData struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Status int    `json:"status"`
}

type StateChangeData struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}
