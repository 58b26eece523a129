package store

import (
	"context"
	"strings"

	"github.com/hireme/chatsync/internal/chat"
)

// SearchMessages returns cached messages whose content contains query,
// newest first. conversationID narrows the search when set.
func (db *DB) SearchMessages(ctx context.Context, query, conversationID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT conversation_id, msg_key, sender_uid, content, created_at, timestamp
		FROM messages
		WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if conversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
