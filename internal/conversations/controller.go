// Package conversations keeps the conversation list: REST summaries
// merged with live unread counts.
package conversations

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/pushdb"
)

const defaultFetchTimeout = 15 * time.Second

// Lister fetches conversation summaries.
type Lister interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
}

// Controller merges summaries and unread counts by conversation id.
type Controller struct {
	lister   Lister
	store    pushdb.Store
	identity identity.Source
	bus      *bus.Bus
	logger   *zap.Logger

	refreshes    singleflight.Group
	fetchTimeout time.Duration

	mu         sync.Mutex
	sub        *pushdb.Subscription
	convs      []chat.Conversation
	loadErr    error
	unread     map[string]int
	haveUnread bool
}

// New returns an unmounted controller.
func New(lister Lister, store pushdb.Store, src identity.Source, b *bus.Bus, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		lister:       lister,
		store:        store,
		identity:     src,
		bus:          b,
		logger:       logger,
		fetchTimeout: defaultFetchTimeout,
	}
}

// Mount subscribes to unread/{userId} and loads the list. A failed load
// leaves an empty list and is returned; the subscription stays.
func (c *Controller) Mount(ctx context.Context) error {
	p, ok := c.identity.Current()
	if !ok {
		return identity.ErrNotAuthenticated
	}
	c.mu.Lock()
	if c.sub == nil {
		sub, err := c.store.Subscribe(ctx, pushdb.UnreadPath(p.UserID), c.onUnread)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("conversations: subscribe unread: %w", err)
		}
		c.sub = sub
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Unmount cancels the unread subscription.
func (c *Controller) Unmount() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Refresh refetches the summaries. Concurrent calls share one request,
// which runs on its own deadline so one caller giving up does not fail the
// others. A caller whose ctx ends first gets ctx.Err() and the shared
// request carries on.
func (c *Controller) Refresh(ctx context.Context) error {
	ch := c.refreshes.DoChan("refresh", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		convs, err := c.lister.ListConversations(fetchCtx)
		c.mu.Lock()
		if err != nil {
			c.convs = nil
			c.loadErr = err
		} else {
			c.convs = convs
			c.loadErr = nil
		}
		c.mu.Unlock()
		c.publish()
		if err != nil {
			c.logger.Warn("conversation list load failed", zap.Error(err))
		}
		return nil, err
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshAsync refreshes in the background, as on a realtime new_message.
func (c *Controller) RefreshAsync(timeout time.Duration) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = c.Refresh(ctx)
	}()
}

func (c *Controller) onUnread(snap pushdb.Snapshot) {
	counts := make(map[string]int, len(snap))
	for id, raw := range snap {
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			c.logger.Debug("skip malformed unread count", zap.String("conversation", id), zap.Error(err))
			continue
		}
		if n > 0 {
			counts[id] = n
		}
	}
	c.mu.Lock()
	c.unread = counts
	c.haveUnread = true
	c.mu.Unlock()
	c.publish()
}

// Summaries returns the merged list. Until the first unread snapshot
// arrives the REST unread_count is used.
func (c *Controller) Summaries() []chat.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summariesLocked()
}

func (c *Controller) summariesLocked() []chat.Summary {
	out := make([]chat.Summary, 0, len(c.convs))
	for _, conv := range c.convs {
		s := chat.Summary{Conversation: conv, Unread: conv.UnreadCount}
		if c.haveUnread {
			s.Unread = c.unread[conv.ID]
		}
		out = append(out, s)
	}
	return out
}

// Unread returns the live unread count of one conversation.
func (c *Controller) Unread(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[conversationID]
}

// Find returns the summary of conversationID.
func (c *Controller) Find(conversationID string) (chat.Summary, bool) {
	for _, s := range c.Summaries() {
		if s.ID == conversationID {
			return s, true
		}
	}
	return chat.Summary{}, false
}

// LoadError returns the error of the last load, nil if it succeeded.
func (c *Controller) LoadError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadErr
}

func (c *Controller) publish() {
	c.mu.Lock()
	summaries := c.summariesLocked()
	c.mu.Unlock()
	c.bus.Emit(bus.KindConversationsUpdated, summaries)
}
