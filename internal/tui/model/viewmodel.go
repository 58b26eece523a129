package model

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hireme/chatsync/internal/api"
	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
)

const (
	messageLimit = 100
	searchLimit  = 50
)

// Control is the subset of the daemon control client the view model uses.
type Control interface {
	Status(ctx context.Context) (api.StatusInfo, error)
	ListConversations(ctx context.Context, refresh bool) (api.ConversationList, error)
	OpenConversation(ctx context.Context, conversationID string) error
	ListMessages(ctx context.Context, conversationID string, limit int) (api.MessageList, error)
	SearchMessages(ctx context.Context, req api.SearchRequest) ([]chat.Message, error)
	Keystroke(ctx context.Context, text string) error
	SendMessage(ctx context.Context, req api.SendRequest) (chat.SendResult, error)
	ListNotifications(ctx context.Context) ([]chat.Notification, error)
	DismissNotification(ctx context.Context, key string) error
	ListPresence(ctx context.Context) (map[string]chat.Presence, error)
}

// ErrNoConversation is returned by Send when no conversation is open.
var ErrNoConversation = errors.New("no conversation is open")

// ViewModel caches daemon state and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	client        Control
	status        api.StatusInfo
	conversations []chat.Summary
	listErr       string
	messages      []chat.Message
	typing        []string
	notifications []chat.Notification
	presence      map[string]chat.Presence
	activeID      string

	refreshCh chan struct{}
}

// NewViewModel creates a view model backed by c.
func NewViewModel(c Control) *ViewModel {
	return &ViewModel{
		client:    c,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.client.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadConversations fetches the conversation list. refresh asks the daemon
// to reload it from the resource API first.
func (vm *ViewModel) LoadConversations(ctx context.Context, refresh bool) error {
	list, err := vm.client.ListConversations(ctx, refresh)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = list.Conversations
	vm.listErr = list.Error
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Open makes id the active conversation and loads its messages.
func (vm *ViewModel) Open(ctx context.Context, id string) error {
	if err := vm.client.OpenConversation(ctx, id); err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.activeID != id {
		vm.messages = nil
		vm.typing = nil
	}
	vm.activeID = id
	vm.mu.Unlock()
	return vm.LoadMessages(ctx)
}

// LoadMessages refreshes the messages of the active conversation.
func (vm *ViewModel) LoadMessages(ctx context.Context) error {
	id := vm.ActiveID()
	if id == "" {
		return nil
	}
	list, err := vm.client.ListMessages(ctx, id, messageLimit)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.activeID == id {
		vm.messages = list.Messages
		vm.typing = list.Typing
	}
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadNotifications fetches the notification feed.
func (vm *ViewModel) LoadNotifications(ctx context.Context) error {
	items, err := vm.client.ListNotifications(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.notifications = items
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadPresence fetches the presence map.
func (vm *ViewModel) LoadPresence(ctx context.Context) error {
	p, err := vm.client.ListPresence(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.presence = p
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Dismiss deletes one notification and reloads the feed.
func (vm *ViewModel) Dismiss(ctx context.Context, key string) error {
	if err := vm.client.DismissNotification(ctx, key); err != nil {
		return err
	}
	return vm.LoadNotifications(ctx)
}

// SearchMessages queries the local message cache.
func (vm *ViewModel) SearchMessages(ctx context.Context, query string) ([]chat.Message, error) {
	return vm.client.SearchMessages(ctx, api.SearchRequest{Query: query, Limit: searchLimit})
}

// Keystroke mirrors the composer input to the daemon, which drives the
// typing indicator.
func (vm *ViewModel) Keystroke(ctx context.Context, text string) error {
	if vm.ActiveID() == "" {
		return nil
	}
	return vm.client.Keystroke(ctx, text)
}

// Send submits text to the active conversation.
func (vm *ViewModel) Send(ctx context.Context, text string) (chat.SendResult, error) {
	id := vm.ActiveID()
	if id == "" {
		return chat.SendResult{}, ErrNoConversation
	}
	res, err := vm.client.SendMessage(ctx, api.SendRequest{ConversationID: id, Text: text})
	if err != nil {
		return chat.SendResult{}, err
	}
	vm.signalRefresh()
	return res, nil
}

// HandleEvent reloads whatever a daemon event of kind invalidates.
func (vm *ViewModel) HandleEvent(ctx context.Context, kind string) error {
	switch {
	case kind == bus.KindConversationsUpdated:
		return vm.LoadConversations(ctx, false)
	case strings.HasPrefix(kind, "conversation."), kind == bus.KindComposerSent:
		return vm.LoadMessages(ctx)
	case kind == bus.KindNotifications:
		return vm.LoadNotifications(ctx)
	case kind == bus.KindPresenceChanged:
		return vm.LoadPresence(ctx)
	case strings.HasPrefix(kind, "realtime."):
		return vm.LoadStatus(ctx)
	}
	return nil
}

// Status returns a snapshot of the daemon status.
func (vm *ViewModel) Status() api.StatusInfo {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Conversations returns a snapshot of the conversation list and its load
// error, if any.
func (vm *ViewModel) Conversations() ([]chat.Summary, string) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations, vm.listErr
}

// Conversation returns the summary with id.
func (vm *ViewModel) Conversation(id string) (chat.Summary, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return chat.Summary{}, false
}

// Messages returns a snapshot of the active conversation's messages and
// who is typing in it.
func (vm *ViewModel) Messages() ([]chat.Message, []string) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages, vm.typing
}

// Notifications returns a snapshot of the notification feed.
func (vm *ViewModel) Notifications() []chat.Notification {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.notifications
}

// Online reports whether userID was last announced online.
func (vm *ViewModel) Online(userID string) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.presence[userID].Online
}

// ActiveID returns the open conversation, or "".
func (vm *ViewModel) ActiveID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeID
}
