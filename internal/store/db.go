// Package store is the per-profile SQLite cache: conversations, messages,
// the send journal and sync state.
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hireme/chatsync/internal/clock"
)

// DB is the cache database.
type DB struct {
	*sql.DB
	clock clock.Clock
}

// Option configures Open.
type Option func(*DB)

// WithClock sets the clock stamping updated_at columns.
func WithClock(c clock.Clock) Option {
	return func(db *DB) { db.clock = c }
}

// Open opens or creates the cache at path in WAL mode.
func Open(path string, opts ...Option) (*DB, error) {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_synchronous", "NORMAL")
	sqlDB, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}

	db := &DB{DB: sqlDB, clock: clock.Real()}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

func (db *DB) now() time.Time { return db.clock.Now() }
