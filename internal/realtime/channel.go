package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names of the push-messaging channel.
const (
	EventConnect           = "connect"
	EventConnectError      = "connect_error"
	EventDisconnect        = "disconnect"
	EventReconnect         = "reconnect"
	EventNewMessage        = "new_message"
	EventNotification      = "notification"
	EventUserTyping        = "user_typing"
	EventUserOnline        = "user_online"
	EventUserOffline       = "user_offline"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
)

// ErrNotConnected is returned by Emit on a channel that lost its connection.
var ErrNotConnected = errors.New("realtime: channel not connected")

// Frame is one JSON message on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handshake is the first client frame. The token is the only identity
// proof; no user id is sent.
type Handshake struct {
	Auth HandshakeAuth `json:"auth"`
}

// HandshakeAuth carries the bearer token.
type HandshakeAuth struct {
	Token string `json:"token"`
}

// ConnectAck is the data of a connect frame.
type ConnectAck struct {
	ID string `json:"id"`
}

// ConnectError is the server's rejection of a handshake.
type ConnectError struct {
	Message string `json:"message"`
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("realtime: connect rejected: %s", e.Message)
}

// ConversationRef is the payload of join/leave frames.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// Handler receives the data of one inbound event.
type Handler func(data json.RawMessage)

// Channel is a live push-messaging connection. Only Manager creates and
// closes channels; everyone else attaches handlers and emits.
type Channel interface {
	ID() string
	Connected() bool
	// On registers h for event and returns a function removing it.
	On(event string, h Handler) (off func())
	Emit(ctx context.Context, event string, payload any) error
	Close() error
}

// Dialer opens a channel authenticated by token and returns once the
// server acknowledged or rejected it.
type Dialer interface {
	Dial(ctx context.Context, token string) (Channel, error)
}
