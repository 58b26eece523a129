package chat

import "time"

// Conversation is a conversation summary as returned by the resource API.
type Conversation struct {
	ID             string `json:"conversation_id"`
	OtherUserID    string `json:"other_user_uid"`
	OtherUserName  string `json:"other_user_name"`
	OtherUserImage string `json:"other_user_image"`
	LastMessage    string `json:"last_message"`
	UnreadCount    int    `json:"unread_count"`
}

// DisplayName returns the other party's name, or a placeholder.
func (c Conversation) DisplayName() string {
	if c.OtherUserName == "" {
		return "Unknown User"
	}
	return c.OtherUserName
}

// Message is a normalized conversation message. Timestamp is the
// ordering timestamp (ms); CreatedAt is only for display.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_uid"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Timestamp      int64     `json:"timestamp"`
}

// Presence is the last announced state of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"`
}

// Typing is one user's typing flag in one conversation.
type Typing struct {
	IsTyping  bool  `json:"isTyping"`
	Timestamp int64 `json:"timestamp"`
}

// NotificationNewMessage is the type of the notification written for a
// delivered message.
const NotificationNewMessage = "new_message"

// Notification is a transient record under notifications/{userId}.
type Notification struct {
	Key            string `json:"-"`
	Type           string `json:"type"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	ConversationID string `json:"conversationId,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
}

// SendRequest is the body of the send endpoint.
type SendRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	ReceiverID     string `json:"receiverUid,omitempty"`
	Content        string `json:"content"`
}

// SendResult is returned by the send endpoint.
type SendResult struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
}

// Summary is a conversation row as rendered: the REST summary merged with
// the live unread count.
type Summary struct {
	Conversation
	Unread int `json:"unread"`
}

// Send journal states.
const (
	SendQueued = "queued"
	SendSent   = "sent"
	SendFailed = "failed"
)

// SendAttempt is one composer submission as recorded in the send journal.
type SendAttempt struct {
	ClientID       string    `json:"client_id"`
	ConversationID string    `json:"conversation_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	State          string    `json:"state"`
	MessageID      string    `json:"message_id,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
