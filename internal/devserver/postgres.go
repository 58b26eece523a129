package devserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hireme/chatsync/internal/chat"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		uid          TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		image        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id           TEXT PRIMARY KEY,
		member_a     TEXT NOT NULL,
		member_b     TEXT NOT NULL,
		last_message TEXT NOT NULL DEFAULT '',
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (member_a, member_b)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_uid      TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		ts              BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_ts ON messages (conversation_id, ts)`,
}

// PostgresRepository is a Repository on a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, pings and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("devserver: parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("devserver: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("devserver: ping database: %w", err)
	}
	for _, q := range schema {
		if _, err := pool.Exec(ctx, q); err != nil {
			pool.Close()
			return nil, fmt.Errorf("devserver: create schema: %w", err)
		}
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) UpsertUser(ctx context.Context, u User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (uid, display_name, image) VALUES ($1, $2, $3)
		ON CONFLICT (uid) DO UPDATE SET display_name = EXCLUDED.display_name, image = EXCLUDED.image`,
		u.ID, u.DisplayName, u.Image)
	if err != nil {
		return fmt.Errorf("devserver: upsert user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) User(ctx context.Context, uid string) (User, error) {
	u := User{ID: uid}
	err := r.pool.QueryRow(ctx, `SELECT display_name, image FROM users WHERE uid = $1`, uid).
		Scan(&u.DisplayName, &u.Image)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("devserver: get user: %w", err)
	}
	return u, nil
}

func (r *PostgresRepository) FindOrCreateConversation(ctx context.Context, a, b string) (Conversation, error) {
	key := pairKey(a, b)
	// DO UPDATE with a no-op assignment makes RETURNING yield the existing row.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, member_a, member_b) VALUES ($1, $2, $3)
		ON CONFLICT (member_a, member_b) DO UPDATE SET member_a = EXCLUDED.member_a
		RETURNING id, member_a, member_b, last_message, updated_at`,
		uuid.NewString(), key[0], key[1])
	return scanConversation(row)
}

func (r *PostgresRepository) Conversation(ctx context.Context, id string) (Conversation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, member_a, member_b, last_message, updated_at
		FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

func (r *PostgresRepository) Conversations(ctx context.Context, uid string) ([]Conversation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, member_a, member_b, last_message, updated_at
		FROM conversations WHERE member_a = $1 OR member_b = $1
		ORDER BY updated_at DESC, id`, uid)
	if err != nil {
		return nil, fmt.Errorf("devserver: list conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AppendMessage(ctx context.Context, m chat.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("devserver: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE conversations SET last_message = $2, updated_at = $3 WHERE id = $1`,
		m.ConversationID, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("devserver: update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_uid, content, created_at, ts)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.CreatedAt, m.Timestamp); err != nil {
		return fmt.Errorf("devserver: insert message: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	if _, err := r.Conversation(ctx, conversationID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, sender_uid, content, created_at, ts
		FROM messages WHERE conversation_id = $1 ORDER BY ts, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("devserver: list messages: %w", err)
	}
	defer rows.Close()
	var out []chat.Message
	for rows.Next() {
		m := chat.Message{ConversationID: conversationID}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Content, &m.CreatedAt, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("devserver: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Members[0], &c.Members[1], &c.LastMessage, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("devserver: scan conversation: %w", err)
	}
	return c, nil
}
