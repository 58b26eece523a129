package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hireme/chatsync/internal/chat"
)

// RecordQueued adds a send attempt in the queued state.
func (db *DB) RecordQueued(ctx context.Context, a chat.SendAttempt) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = db.now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO send_journal (client_id, conversation_id, receiver_uid, content, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ClientID, a.ConversationID, a.ReceiverID, a.Content, chat.SendQueued, created.UnixMilli(), created.UnixMilli())
	return err
}

// RecordResult moves a send attempt to sent or failed.
func (db *DB) RecordResult(ctx context.Context, clientID, state, messageID, errText string) error {
	if state != chat.SendSent && state != chat.SendFailed {
		return fmt.Errorf("store: invalid journal state %q", state)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE send_journal SET state = ?, message_id = ?, error_message = ?, updated_at = ?
		WHERE client_id = ?`,
		state, messageID, errText, db.now().UnixMilli(), clientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: journal entry %s not found", clientID)
	}
	return nil
}

// Journal returns send attempts in the given state, oldest first. An
// empty state returns all of them.
func (db *DB) Journal(ctx context.Context, state string, limit int) ([]chat.SendAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT client_id, conversation_id, receiver_uid, content, state, message_id, error_message, created_at, updated_at
		FROM send_journal
		WHERE ? = '' OR state = ?
		ORDER BY created_at ASC, client_id ASC
		LIMIT ?`, state, state, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.SendAttempt
	for rows.Next() {
		var a chat.SendAttempt
		var created, updated int64
		if err := rows.Scan(&a.ClientID, &a.ConversationID, &a.ReceiverID, &a.Content, &a.State, &a.MessageID, &a.Error, &created, &updated); err != nil {
			return nil, err
		}
		a.CreatedAt = time.UnixMilli(created)
		a.UpdatedAt = time.UnixMilli(updated)
		out = append(out, a)
	}
	return out, rows.Err()
}
