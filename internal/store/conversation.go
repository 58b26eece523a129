package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hireme/chatsync/internal/chat"
)

// UpsertConversation inserts or updates a conversation summary.
func (db *DB) UpsertConversation(ctx context.Context, c chat.Conversation) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, other_user_uid, other_user_name, other_user_image, last_message, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			other_user_uid = excluded.other_user_uid,
			other_user_name = excluded.other_user_name,
			other_user_image = excluded.other_user_image,
			last_message = excluded.last_message,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.ID, c.OtherUserID, c.OtherUserName, c.OtherUserImage, c.LastMessage, c.UnreadCount, db.now().UnixMilli())
	return err
}

// ListConversations returns cached summaries, most recently updated first.
func (db *DB) ListConversations(ctx context.Context, limit int) ([]chat.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id, other_user_uid, other_user_name, other_user_image, last_message, unread_count
		FROM conversations
		ORDER BY updated_at DESC, conversation_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []chat.Conversation
	for rows.Next() {
		var c chat.Conversation
		if err := rows.Scan(&c.ID, &c.OtherUserID, &c.OtherUserName, &c.OtherUserImage, &c.LastMessage, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns one summary, or nil when it is not cached.
func (db *DB) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	var c chat.Conversation
	err := db.QueryRowContext(ctx, `
		SELECT conversation_id, other_user_uid, other_user_name, other_user_image, last_message, unread_count
		FROM conversations WHERE conversation_id = ?`, id).
		Scan(&c.ID, &c.OtherUserID, &c.OtherUserName, &c.OtherUserImage, &c.LastMessage, &c.UnreadCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
