// Package listener projects a conversation's push-database entries into
// an ordered message list.
package listener

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/clock"
	"github.com/hireme/chatsync/internal/pushdb"
)

// MarkReader clears a conversation's unread count.
type MarkReader interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// Callback receives the full ordered list on every change.
type Callback func(conversationID string, msgs []chat.Message)

// Projection is the bus payload of conversation.messages.
type Projection struct {
	ConversationID string
	Messages       []chat.Message
}

// Options tunes a Listener.
type Options struct {
	// ScrollDelay defers the scroll-to-end side effect after a change.
	ScrollDelay time.Duration
	// MarkReadTimeout bounds the fire-and-forget read receipt.
	MarkReadTimeout time.Duration
	// ScrollToEnd is the side effect; nil publishes conversation.scroll_end.
	ScrollToEnd func(conversationID string)
}

// Listener attaches conversation subscriptions.
type Listener struct {
	store  pushdb.Store
	reader MarkReader
	bus    *bus.Bus
	clock  clock.Clock
	logger *zap.Logger
	opts   Options
}

// New returns a Listener. reader and b may be nil.
func New(store pushdb.Store, reader MarkReader, b *bus.Bus, clk clock.Clock, logger *zap.Logger, opts Options) *Listener {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ScrollDelay <= 0 {
		opts.ScrollDelay = 100 * time.Millisecond
	}
	if opts.MarkReadTimeout <= 0 {
		opts.MarkReadTimeout = 5 * time.Second
	}
	l := &Listener{store: store, reader: reader, bus: b, clock: clk, logger: logger, opts: opts}
	if l.opts.ScrollToEnd == nil {
		l.opts.ScrollToEnd = func(id string) { b.Emit(bus.KindConversationScroll, id) }
	}
	return l
}

// Attachment is a live conversation subscription.
type Attachment struct {
	id       string
	l        *Listener
	cb       Callback
	scroll   *clock.Debouncer
	sub      *pushdb.Subscription
	detached atomic.Bool
	once     sync.Once

	mu   sync.Mutex
	msgs []chat.Message
}

// Attach subscribes to messages/{conversationID} and fires mark-read in
// the background.
func (l *Listener) Attach(ctx context.Context, conversationID string, cb Callback) (*Attachment, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("listener: empty conversation id")
	}
	a := &Attachment{
		id:     conversationID,
		l:      l,
		cb:     cb,
		scroll: clock.NewDebouncer(l.clock, l.opts.ScrollDelay),
	}
	sub, err := l.store.Subscribe(ctx, pushdb.MessagesPath(conversationID), a.onSnapshot)
	if err != nil {
		return nil, fmt.Errorf("listener: subscribe %s: %w", conversationID, err)
	}
	a.sub = sub
	l.markRead(conversationID)
	return a, nil
}

func (l *Listener) markRead(conversationID string) {
	if l.reader == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.opts.MarkReadTimeout)
		defer cancel()
		if err := l.reader.MarkRead(ctx, conversationID); err != nil {
			l.logger.Warn("mark read failed", zap.String("conversation", conversationID), zap.Error(err))
		}
	}()
}

func (a *Attachment) onSnapshot(snap pushdb.Snapshot) {
	if a.detached.Load() {
		return
	}
	msgs, skipped := Project(a.id, snap)
	if skipped > 0 {
		a.l.logger.Warn("skipped malformed message entries",
			zap.String("conversation", a.id), zap.Int("count", skipped))
	}

	a.mu.Lock()
	a.msgs = msgs
	a.mu.Unlock()

	a.scroll.Schedule(func() {
		if !a.detached.Load() {
			a.l.opts.ScrollToEnd(a.id)
		}
	})
	if a.cb != nil {
		a.cb(a.id, cloneMessages(msgs))
	}
	a.l.bus.Emit(bus.KindConversationMessages, Projection{ConversationID: a.id, Messages: cloneMessages(msgs)})
}

// ConversationID returns the attached conversation.
func (a *Attachment) ConversationID() string { return a.id }

// Messages returns the latest projection.
func (a *Attachment) Messages() []chat.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneMessages(a.msgs)
}

// Detach removes the subscription. After Detach returns the callback is
// not invoked again. Detach must not be called from the callback.
func (a *Attachment) Detach() {
	a.once.Do(func() {
		a.detached.Store(true)
		a.sub.Cancel()
		a.scroll.Cancel()
	})
}

func cloneMessages(in []chat.Message) []chat.Message {
	return append([]chat.Message(nil), in...)
}
