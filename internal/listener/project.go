package listener

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/pushdb"
)

// rawEntry is a message as written under messages/{conversationId}.
type rawEntry struct {
	SenderUID string          `json:"senderUid"`
	Content   string          `json:"content"`
	CreatedAt json.RawMessage `json:"createdAt"`
	Timestamp *float64        `json:"timestamp"`
}

// Project rebuilds the ordered message list of a conversation from a full
// snapshot. Entries are pre-ordered by key and then stably sorted by
// ordering timestamp, so equal timestamps keep push order. Entries that
// are not JSON objects are skipped and counted.
func Project(conversationID string, snap pushdb.Snapshot) ([]chat.Message, int) {
	msgs := make([]chat.Message, 0, len(snap))
	skipped := 0
	for _, key := range snap.Keys() {
		var e rawEntry
		if err := json.Unmarshal(snap[key], &e); err != nil {
			skipped++
			continue
		}
		m := chat.Message{
			ID:             key,
			ConversationID: conversationID,
			SenderID:       e.SenderUID,
			Content:        e.Content,
		}
		if e.Timestamp != nil {
			m.Timestamp = int64(*e.Timestamp)
		}
		m.CreatedAt = parseCreatedAt(e.CreatedAt)
		if m.CreatedAt.IsZero() && m.Timestamp > 0 {
			m.CreatedAt = time.UnixMilli(m.Timestamp).UTC()
		}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	return msgs, skipped
}

// parseCreatedAt accepts epoch milliseconds or an RFC 3339 string.
func parseCreatedAt(raw json.RawMessage) time.Time {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(int64(ms)).UTC()
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
