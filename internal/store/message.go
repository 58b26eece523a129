package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hireme/chatsync/internal/chat"
)

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_key).
func (db *DB) UpsertMessage(ctx context.Context, m chat.Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, msg_key, sender_uid, content, created_at, timestamp, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_key) DO UPDATE SET
			sender_uid = excluded.sender_uid,
			content = excluded.content,
			created_at = excluded.created_at,
			timestamp = excluded.timestamp`,
		m.ConversationID, m.ID, m.SenderID, m.Content, millis(m.CreatedAt), m.Timestamp, db.now().UnixMilli())
	return err
}

// Messages returns the latest limit messages of a conversation in
// ascending timestamp order.
func (db *DB) Messages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id, msg_key, sender_uid, content, created_at, timestamp FROM (
			SELECT * FROM messages
			WHERE conversation_id = ?
			ORDER BY timestamp DESC, msg_key DESC
			LIMIT ?
		) ORDER BY timestamp ASC, msg_key ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

type scanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows scanner) ([]chat.Message, error) {
	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var created int64
		if err := rows.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Content, &created, &m.Timestamp); err != nil {
			return nil, err
		}
		if created > 0 {
			m.CreatedAt = time.UnixMilli(created)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// UpsertMessages upserts a batch in one transaction keyed by conversation
// and message key. It returns how many rows were inserted or changed;
// identical rows are left untouched.
func (db *DB) UpsertMessages(ctx context.Context, msgs []chat.Message) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (conversation_id, msg_key, sender_uid, content, created_at, timestamp, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_key) DO UPDATE SET
			sender_uid = excluded.sender_uid,
			content = excluded.content,
			created_at = excluded.created_at,
			timestamp = excluded.timestamp
		WHERE sender_uid IS NOT excluded.sender_uid
			OR content IS NOT excluded.content
			OR created_at IS NOT excluded.created_at
			OR timestamp IS NOT excluded.timestamp`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := db.now().UnixMilli()
	written := 0
	for _, m := range msgs {
		res, err := stmt.ExecContext(ctx, m.ConversationID, m.ID, m.SenderID, m.Content, millis(m.CreatedAt), m.Timestamp, now)
		if err != nil {
			return 0, fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return written, nil
}
