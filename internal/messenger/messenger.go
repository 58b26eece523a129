// Package messenger coordinates the messaging page: presence, the
// conversation list, the open conversation, the composer and the
// realtime channel.
package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/clock"
	"github.com/hireme/chatsync/internal/composer"
	"github.com/hireme/chatsync/internal/conversations"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/listener"
	"github.com/hireme/chatsync/internal/notifications"
	"github.com/hireme/chatsync/internal/presence"
	"github.com/hireme/chatsync/internal/pushdb"
	"github.com/hireme/chatsync/internal/realtime"
)

// API is the resource API surface the page uses.
type API interface {
	conversations.Lister
	listener.MarkReader
	presence.Beacon
	presence.TypingPublisher
	composer.Sender
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	SyncUser(ctx context.Context, p identity.Principal) error
}

// Cache serves messages of conversations that are not open.
type Cache interface {
	Messages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error)
}

// Sockets hands out the shared realtime channel. nil disables realtime.
type Sockets interface {
	Acquire(ctx context.Context) realtime.Result
}

// Timing holds the delays of the page.
type Timing struct {
	TypingIdle    time.Duration
	TypingStale   time.Duration
	ScrollDelay   time.Duration
	BeaconTimeout time.Duration
}

// Deps wires a Messenger. Sockets, Cache, Journal, Bus, Clock and Logger
// may be nil.
type Deps struct {
	API      API
	Store    pushdb.Store
	Identity identity.Source
	Sockets  Sockets
	Cache    Cache
	Journal  composer.Journal
	Bus      *bus.Bus
	Clock    clock.Clock
	Logger   *zap.Logger
	Timing   Timing
}

// Messenger is goroutine-safe.
type Messenger struct {
	deps   Deps
	logger *zap.Logger

	bridge   *presence.Bridge
	list     *conversations.Controller
	feed     *notifications.Feed
	switcher *listener.Switcher
	typing   *presence.TypingSender
	composer *composer.Composer

	syncOnce sync.Once

	mu        sync.Mutex
	mounted   bool
	self      identity.Principal
	watcher   *presence.TypingWatcher
	channel   realtime.Channel
	offs      []func()
	socketErr error
}

// New builds an unmounted Messenger.
func New(d Deps) *Messenger {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Timing.BeaconTimeout <= 0 {
		d.Timing.BeaconTimeout = 5 * time.Second
	}
	m := &Messenger{deps: d, logger: d.Logger}
	m.bridge = presence.NewBridge(d.Store, d.API, d.Identity, d.Bus, d.Logger.Named("presence"), d.Timing.BeaconTimeout)
	m.list = conversations.New(d.API, d.Store, d.Identity, d.Bus, d.Logger.Named("conversations"))
	m.feed = notifications.New(d.Store, d.Identity, d.Bus, d.Logger.Named("notifications"))
	l := listener.New(d.Store, d.API, d.Bus, d.Clock, d.Logger.Named("listener"), listener.Options{
		ScrollDelay:     d.Timing.ScrollDelay,
		MarkReadTimeout: d.Timing.BeaconTimeout,
	})
	m.switcher = listener.NewSwitcher(l, nil)
	m.typing = presence.NewTypingSender(d.API, d.Clock, d.Timing.TypingIdle, d.Logger.Named("typing"))
	m.composer = composer.New(d.API, composer.Options{
		Typing:  m.typing,
		Journal: d.Journal,
		Bus:     d.Bus,
		Logger:  d.Logger.Named("composer"),
		Now:     d.Clock.Now,
	})
	return m
}

// Mount requires a signed-in principal. Only the presence subscription
// is fatal: list, notifications and realtime failures degrade the page.
func (m *Messenger) Mount(ctx context.Context) error {
	p, ok := m.deps.Identity.Current()
	if !ok {
		return identity.ErrNotAuthenticated
	}
	m.mu.Lock()
	if m.mounted {
		m.mu.Unlock()
		return nil
	}
	m.mounted = true
	m.self = p
	m.watcher = presence.NewTypingWatcher(m.deps.Store, p.UserID, m.deps.Clock, m.deps.Timing.TypingStale,
		m.deps.Bus, m.logger.Named("typing"), nil)
	m.mu.Unlock()

	m.syncOnce.Do(func() {
		if err := m.deps.API.SyncUser(ctx, p); err != nil {
			m.logger.Warn("user sync failed", zap.String("user", p.UserID), zap.Error(err))
		}
	})

	if err := m.bridge.Mount(ctx); err != nil {
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		return fmt.Errorf("messenger: %w", err)
	}
	if err := m.list.Mount(ctx); err != nil {
		m.logger.Warn("conversation list unavailable", zap.Error(err))
	}
	if err := m.feed.Mount(ctx); err != nil {
		m.logger.Warn("notifications unavailable", zap.Error(err))
	}
	m.ensureSocket(ctx)
	return nil
}

// Unmount detaches everything the page attached. The realtime channel
// itself stays with its manager.
func (m *Messenger) Unmount() {
	m.mu.Lock()
	if !m.mounted {
		m.mu.Unlock()
		return
	}
	m.mounted = false
	watcher := m.watcher
	m.mu.Unlock()

	if active, ok := m.switcher.Active(); ok {
		m.emit(realtime.EventLeaveConversation, active)
	}
	m.dropSocket()
	m.switcher.Close()
	if watcher != nil {
		watcher.Stop()
	}
	m.typing.Idle()
	m.composer.ClearTarget()
	m.feed.Unmount()
	m.list.Unmount()
	m.bridge.Unmount()
}

// Close unmounts and stops the typing worker.
func (m *Messenger) Close() {
	m.Unmount()
	m.typing.Close()
}

// Open makes conversationID the active conversation.
func (m *Messenger) Open(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	mounted, watcher := m.mounted, m.watcher
	m.mu.Unlock()
	if !mounted {
		return identity.ErrNotAuthenticated
	}

	prev, hadPrev := m.switcher.Active()
	if hadPrev && prev == conversationID {
		return nil
	}
	if err := m.switcher.Switch(ctx, conversationID); err != nil {
		return fmt.Errorf("messenger: open %s: %w", conversationID, err)
	}
	if err := watcher.Watch(ctx, conversationID); err != nil {
		m.logger.Warn("typing watch failed", zap.String("conversation", conversationID), zap.Error(err))
	}

	target := composer.Target{ConversationID: conversationID}
	if s, ok := m.list.Find(conversationID); ok {
		target.ReceiverID = s.OtherUserID
	}
	m.composer.SetTarget(target)

	m.ensureSocket(ctx)
	if hadPrev {
		m.emit(realtime.EventLeaveConversation, prev)
	}
	m.emit(realtime.EventJoinConversation, conversationID)
	return nil
}

// Keystroke replaces the composer input.
func (m *Messenger) Keystroke(text string) {
	m.composer.SetText(text)
}

// Send submits the composer input.
func (m *Messenger) Send(ctx context.Context) (chat.SendResult, error) {
	return m.composer.Submit(ctx)
}

// Refresh reloads the conversation list and retries the socket.
func (m *Messenger) Refresh(ctx context.Context) error {
	m.ensureSocket(ctx)
	return m.list.Refresh(ctx)
}

// Self returns the mounted principal.
func (m *Messenger) Self() identity.Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.self
}

// Conversations returns the merged conversation list.
func (m *Messenger) Conversations() []chat.Summary { return m.list.Summaries() }

// ListError returns the last conversation list load error.
func (m *Messenger) ListError() error { return m.list.LoadError() }

// Active returns the open conversation.
func (m *Messenger) Active() (string, bool) { return m.switcher.Active() }

// Messages returns the projection of the open conversation.
func (m *Messenger) Messages() []chat.Message { return m.switcher.Messages() }

// Draft returns the composer input.
func (m *Messenger) Draft() string { return m.composer.Text() }

// Typing returns who else is typing in the open conversation.
func (m *Messenger) Typing() []string {
	m.mu.Lock()
	w := m.watcher
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Typing()
}

// Presence returns the presence map.
func (m *Messenger) Presence() map[string]chat.Presence { return m.bridge.Snapshot() }

// Notifications returns the notification feed, newest first.
func (m *Messenger) Notifications() []chat.Notification { return m.feed.List() }

// Dismiss deletes one notification.
func (m *Messenger) Dismiss(ctx context.Context, key string) error { return m.feed.Dismiss(ctx, key) }

// SocketError returns why the realtime channel is unavailable, nil when
// it is connected or disabled.
func (m *Messenger) SocketError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socketErr
}

// History returns the messages of conversationID: the live projection
// when it is open, the cache next, the REST endpoint last.
func (m *Messenger) History(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	if active, ok := m.switcher.Active(); ok && active == conversationID {
		return trim(m.switcher.Messages(), limit), nil
	}
	if m.deps.Cache != nil {
		msgs, err := m.deps.Cache.Messages(ctx, conversationID, limit)
		if err != nil {
			m.logger.Debug("cache read failed", zap.String("conversation", conversationID), zap.Error(err))
		} else if len(msgs) > 0 {
			return msgs, nil
		}
	}
	msgs, err := m.deps.API.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return trim(msgs, limit), nil
}

func trim(msgs []chat.Message, limit int) []chat.Message {
	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}

type userRef struct {
	UserID string `json:"userId"`
}

// ensureSocket acquires the channel and registers the page handlers on
// it. Unavailability is recorded, never returned.
func (m *Messenger) ensureSocket(ctx context.Context) {
	if m.deps.Sockets == nil {
		return
	}
	switch res := m.deps.Sockets.Acquire(ctx).(type) {
	case realtime.Unavailable:
		m.logger.Info("realtime unavailable, continuing without it", zap.Error(res.Reason))
		m.dropSocket()
		m.mu.Lock()
		m.socketErr = res.Reason
		m.mu.Unlock()
	case realtime.Connected:
		m.mu.Lock()
		defer m.mu.Unlock()
		m.socketErr = nil
		if m.channel != nil && m.channel.ID() == res.Channel.ID() {
			return
		}
		for _, off := range m.offs {
			off()
		}
		m.channel = res.Channel
		m.offs = m.register(res.Channel)
	}
}

func (m *Messenger) register(ch realtime.Channel) []func() {
	refresh := func(event string) realtime.Handler {
		return func(data json.RawMessage) {
			m.deps.Bus.Emit(bus.KindRealtimeEvent, realtime.Frame{Event: event, Data: data})
			m.list.RefreshAsync(m.deps.Timing.BeaconTimeout)
		}
	}
	online := func(on bool) realtime.Handler {
		return func(data json.RawMessage) {
			var ref userRef
			if err := json.Unmarshal(data, &ref); err != nil || ref.UserID == "" {
				return
			}
			m.bridge.Apply(ref.UserID, chat.Presence{Online: on, LastSeen: m.deps.Clock.Now().UnixMilli()})
		}
	}
	return []func(){
		ch.On(realtime.EventNewMessage, refresh(realtime.EventNewMessage)),
		ch.On(realtime.EventNotification, refresh(realtime.EventNotification)),
		ch.On(realtime.EventUserOnline, online(true)),
		ch.On(realtime.EventUserOffline, online(false)),
	}
}

func (m *Messenger) dropSocket() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, off := range m.offs {
		off()
	}
	m.offs = nil
	m.channel = nil
}

func (m *Messenger) emit(event, conversationID string) {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()
	if ch == nil || !ch.Connected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.deps.Timing.BeaconTimeout)
	defer cancel()
	if err := ch.Emit(ctx, event, realtime.ConversationRef{ConversationID: conversationID}); err != nil {
		m.logger.Debug("realtime emit failed", zap.String("event", event), zap.Error(err))
	}
}
