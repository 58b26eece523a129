// Package devserver is a reference backend for the messaging core: the
// REST resource API, the push database writes that back it and the
// realtime socket hub.
package devserver

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireme/chatsync/internal/chat"
)

// ErrNotFound is returned for unknown users and conversations.
var ErrNotFound = errors.New("devserver: not found")

// User is a backend user profile.
type User struct {
	ID          string
	DisplayName string
	Image       string
}

// Conversation is a two-party conversation.
type Conversation struct {
	ID          string
	Members     [2]string
	LastMessage string
	UpdatedAt   time.Time
}

// Has reports whether uid is a member.
func (c Conversation) Has(uid string) bool {
	return c.Members[0] == uid || c.Members[1] == uid
}

// Other returns the member that is not uid.
func (c Conversation) Other(uid string) string {
	if c.Members[0] == uid {
		return c.Members[1]
	}
	return c.Members[0]
}

// Repository persists users, conversations and message history.
type Repository interface {
	UpsertUser(ctx context.Context, u User) error
	User(ctx context.Context, uid string) (User, error)
	// FindOrCreateConversation returns the conversation between a and b,
	// creating it on first use.
	FindOrCreateConversation(ctx context.Context, a, b string) (Conversation, error)
	Conversation(ctx context.Context, id string) (Conversation, error)
	// Conversations lists uid's conversations, most recently active first.
	Conversations(ctx context.Context, uid string) ([]Conversation, error)
	// AppendMessage stores m and makes it its conversation's last message.
	AppendMessage(ctx context.Context, m chat.Message) error
	// Messages returns a conversation's history ordered by timestamp.
	Messages(ctx context.Context, conversationID string) ([]chat.Message, error)
	Close() error
}

func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu       sync.Mutex
	users    map[string]User
	convs    map[string]*Conversation
	byPair   map[[2]string]string
	messages map[string][]chat.Message
	now      func() time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]User),
		convs:    make(map[string]*Conversation),
		byPair:   make(map[[2]string]string),
		messages: make(map[string][]chat.Message),
		now:      time.Now,
	}
}

func (r *MemoryRepository) UpsertUser(_ context.Context, u User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *MemoryRepository) User(_ context.Context, uid string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[uid]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepository) FindOrCreateConversation(_ context.Context, a, b string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(a, b)
	if id, ok := r.byPair[key]; ok {
		return *r.convs[id], nil
	}
	c := &Conversation{ID: uuid.NewString(), Members: key, UpdatedAt: r.now()}
	r.convs[c.ID] = c
	r.byPair[key] = c.ID
	return *c, nil
}

func (r *MemoryRepository) Conversation(_ context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *c, nil
}

func (r *MemoryRepository) Conversations(_ context.Context, uid string) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Conversation
	for _, c := range r.convs {
		if c.Has(uid) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) AppendMessage(_ context.Context, m chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[m.ConversationID]
	if !ok {
		return ErrNotFound
	}
	r.messages[m.ConversationID] = append(r.messages[m.ConversationID], m)
	c.LastMessage = m.Content
	c.UpdatedAt = m.CreatedAt
	return nil
}

func (r *MemoryRepository) Messages(_ context.Context, conversationID string) ([]chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[conversationID]; !ok {
		return nil, ErrNotFound
	}
	out := append([]chat.Message(nil), r.messages[conversationID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (r *MemoryRepository) Close() error { return nil }
