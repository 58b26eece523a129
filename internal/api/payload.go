package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hireme/chatsync/internal/chat"
)

// StatusInfo is the Status reply.
type StatusInfo struct {
	Profile            string `json:"profile"`
	UserID             string `json:"user_id"`
	DisplayName        string `json:"display_name"`
	State              string `json:"state"`
	StateSinceMs       int64  `json:"state_since_ms"`
	Failures           int    `json:"failures"`
	ChannelID          string `json:"channel_id,omitempty"`
	RealtimeError      string `json:"realtime_error,omitempty"`
	ActiveConversation string `json:"active_conversation,omitempty"`
	Draft              string `json:"draft,omitempty"`
	UptimeMs           int64  `json:"uptime_ms"`
}

// ConversationList is the ListConversations reply. Error is set when the
// list failed to load.
type ConversationList struct {
	Conversations []chat.Summary `json:"conversations"`
	Error         string         `json:"error,omitempty"`
}

// ListRequest is the ListConversations request.
type ListRequest struct {
	Refresh bool `json:"refresh,omitempty"`
}

// ConversationRequest names a conversation.
type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

// MessagesRequest is the ListMessages request.
type MessagesRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit,omitempty"`
}

// MessageList is the ListMessages and SearchMessages reply. Typing is
// only set for the open conversation.
type MessageList struct {
	Messages []chat.Message `json:"messages"`
	Typing   []string       `json:"typing,omitempty"`
}

// SearchRequest is the SearchMessages request.
type SearchRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// KeystrokeRequest replaces the composer input.
type KeystrokeRequest struct {
	Text string `json:"text"`
}

// SendRequest submits the composer input. A non-empty Text replaces the
// input first; a non-empty ConversationID opens that conversation first.
type SendRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
}

// NotificationList is the ListNotifications reply, newest first.
type NotificationList struct {
	Notifications []chat.Notification `json:"notifications"`
}

// notificationWire keeps the record key, which chat.Notification omits
// from JSON.
type notificationWire struct {
	Key string `json:"key"`
	chat.Notification
}

// MarshalJSON implements json.Marshaler.
func (l NotificationList) MarshalJSON() ([]byte, error) {
	out := make([]notificationWire, 0, len(l.Notifications))
	for _, n := range l.Notifications {
		out = append(out, notificationWire{Key: n.Key, Notification: n})
	}
	return json.Marshal(struct {
		Notifications []notificationWire `json:"notifications"`
	}{out})
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *NotificationList) UnmarshalJSON(b []byte) error {
	var in struct {
		Notifications []notificationWire `json:"notifications"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	l.Notifications = make([]chat.Notification, 0, len(in.Notifications))
	for _, w := range in.Notifications {
		n := w.Notification
		n.Key = w.Key
		l.Notifications = append(l.Notifications, n)
	}
	return nil
}

// DismissRequest deletes one notification.
type DismissRequest struct {
	Key string `json:"key"`
}

// PresenceMap is the ListPresence reply.
type PresenceMap struct {
	Presence map[string]chat.Presence `json:"presence"`
}

// WatchRequest filters the event stream by kind prefix.
type WatchRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

// Event is one streamed bus event.
type Event struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	OccurredAtMs int64           `json:"occurred_at_ms"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// encode converts v, which must marshal to a JSON object, to a Struct.
func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("api: encode: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("api: encode: %w", err)
	}
	return s, nil
}

// decode fills v from s. A nil Struct decodes as an empty object.
func decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = new(structpb.Struct)
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("api: decode: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("api: decode: %w", err)
	}
	return nil
}
