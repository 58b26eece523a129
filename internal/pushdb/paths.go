package pushdb

// PresencePath holds one child per user: {online, lastSeen}.
const PresencePath = "presence"

// MessagesPath holds one child per message of a conversation.
func MessagesPath(conversationID string) string { return "messages/" + conversationID }

// UnreadPath holds one unread count per conversation of a user.
func UnreadPath(userID string) string { return "unread/" + userID }

// TypingPath holds one {isTyping, timestamp} child per user of a conversation.
func TypingPath(conversationID string) string { return "typing/" + conversationID }

// NotificationsPath holds transient notifications of a user.
func NotificationsPath(userID string) string { return "notifications/" + userID }
