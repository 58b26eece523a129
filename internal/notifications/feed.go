// Package notifications mirrors the signed-in user's transient
// notification records.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/pushdb"
)

// Feed is goroutine-safe.
type Feed struct {
	store    pushdb.Store
	identity identity.Source
	bus      *bus.Bus
	logger   *zap.Logger

	mu    sync.Mutex
	sub   *pushdb.Subscription
	path  string
	items []chat.Notification
}

// New returns an unmounted feed.
func New(store pushdb.Store, src identity.Source, b *bus.Bus, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{store: store, identity: src, bus: b, logger: logger}
}

// Mount subscribes to notifications/{userId}.
func (f *Feed) Mount(ctx context.Context) error {
	p, ok := f.identity.Current()
	if !ok {
		return identity.ErrNotAuthenticated
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sub != nil {
		return nil
	}
	path := pushdb.NotificationsPath(p.UserID)
	sub, err := f.store.Subscribe(ctx, path, f.onSnapshot)
	if err != nil {
		return fmt.Errorf("notifications: subscribe: %w", err)
	}
	f.sub = sub
	f.path = path
	return nil
}

// Unmount cancels the subscription and forgets the records.
func (f *Feed) Unmount() {
	f.mu.Lock()
	sub := f.sub
	f.sub = nil
	f.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	f.mu.Lock()
	f.items = nil
	f.mu.Unlock()
}

func (f *Feed) onSnapshot(snap pushdb.Snapshot) {
	items := make([]chat.Notification, 0, len(snap))
	for _, key := range snap.Keys() {
		var n chat.Notification
		if err := json.Unmarshal(snap[key], &n); err != nil {
			f.logger.Debug("skip malformed notification", zap.String("key", key), zap.Error(err))
			continue
		}
		n.Key = key
		items = append(items, n)
	}
	// Keys are time-ordered, so key order breaks CreatedAt ties.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt > items[j].CreatedAt
		}
		return items[i].Key > items[j].Key
	})
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
	f.bus.Emit(bus.KindNotifications, items)
}

// List returns the notifications newest first.
func (f *Feed) List() []chat.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Notification(nil), f.items...)
}

// Dismiss deletes one record.
func (f *Feed) Dismiss(ctx context.Context, key string) error {
	f.mu.Lock()
	path := f.path
	f.mu.Unlock()
	if path == "" {
		return identity.ErrNotAuthenticated
	}
	if err := f.store.Delete(ctx, path, key); err != nil {
		return fmt.Errorf("notifications: dismiss %s: %w", key, err)
	}
	return nil
}
