package bus

import "time"

// Event kinds. Subscribers filter by namespace prefix ("conversation.").
const (
	KindStatusChanged        = "realtime.status_changed"
	KindRealtimeConnected    = "realtime.connected"
	KindRealtimeEvent        = "realtime.event"
	KindConversationMessages = "conversation.messages"
	KindConversationTyping   = "conversation.typing"
	KindConversationScroll   = "conversation.scroll_end"
	KindConversationsUpdated = "conversations.updated"
	KindPresenceChanged      = "presence.changed"
	KindNotifications        = "notifications.changed"
	KindComposerSent         = "composer.sent"
	KindComposerFailed       = "composer.failed"
	KindCacheIngested        = "cache.ingested"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
