// Package presence publishes and observes the ephemeral online and
// typing signals, independently of the realtime channel.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/pushdb"
)

// Beacon announces the local user's online flag.
type Beacon interface {
	SetPresence(ctx context.Context, online bool) error
}

// Bridge announces presence on Mount/Unmount and mirrors the global
// presence map.
type Bridge struct {
	store    pushdb.Store
	beacon   Beacon
	identity identity.Source
	bus      *bus.Bus
	logger   *zap.Logger
	timeout  time.Duration

	mu       sync.Mutex
	sub      *pushdb.Subscription
	presence map[string]chat.Presence
}

// NewBridge returns an unmounted bridge. timeout bounds each beacon.
func NewBridge(store pushdb.Store, beacon Beacon, src identity.Source, b *bus.Bus, logger *zap.Logger, timeout time.Duration) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Bridge{
		store:    store,
		beacon:   beacon,
		identity: src,
		bus:      b,
		logger:   logger,
		timeout:  timeout,
		presence: make(map[string]chat.Presence),
	}
}

// Mount announces online=true in the background and subscribes to the
// presence map. Mounting twice is a no-op.
func (b *Bridge) Mount(ctx context.Context) error {
	if _, ok := b.identity.Current(); !ok {
		return identity.ErrNotAuthenticated
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}

	sub, err := b.store.Subscribe(ctx, pushdb.PresencePath, b.onSnapshot)
	if err != nil {
		return fmt.Errorf("presence: subscribe: %w", err)
	}
	b.sub = sub
	go b.announce(true)
	return nil
}

// Unmount cancels the subscription and announces online=false. The
// offline beacon is best effort: failure is logged.
func (b *Bridge) Unmount() {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	if sub == nil {
		return
	}
	sub.Cancel()
	b.announce(false)
}

func (b *Bridge) announce(online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.beacon.SetPresence(ctx, online); err != nil {
		b.logger.Warn("presence beacon failed", zap.Bool("online", online), zap.Error(err))
	}
}

func (b *Bridge) onSnapshot(snap pushdb.Snapshot) {
	next := make(map[string]chat.Presence, len(snap))
	for uid, raw := range snap {
		var p chat.Presence
		if err := json.Unmarshal(raw, &p); err != nil {
			b.logger.Debug("skip malformed presence", zap.String("user", uid), zap.Error(err))
			continue
		}
		next[uid] = p
	}
	b.mu.Lock()
	b.presence = next
	b.mu.Unlock()
	b.bus.Emit(bus.KindPresenceChanged, maps.Clone(next))
}

// Apply merges a presence change observed elsewhere, such as a realtime
// user_online event. The newer lastSeen wins.
func (b *Bridge) Apply(userID string, p chat.Presence) {
	b.mu.Lock()
	cur, ok := b.presence[userID]
	if ok && cur.LastSeen > p.LastSeen {
		b.mu.Unlock()
		return
	}
	b.presence[userID] = p
	out := maps.Clone(b.presence)
	b.mu.Unlock()
	b.bus.Emit(bus.KindPresenceChanged, out)
}

// Snapshot returns the presence map.
func (b *Bridge) Snapshot() map[string]chat.Presence {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.presence)
}

// IsOnline reports the last known online flag of userID.
func (b *Bridge) IsOnline(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presence[userID].Online
}
