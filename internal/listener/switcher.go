package listener

import (
	"context"
	"sync"

	"github.com/hireme/chatsync/internal/chat"
)

// Switcher holds the single active conversation attachment.
type Switcher struct {
	l  *Listener
	cb Callback

	// switchMu serializes Switch and Close; mu guards active and is
	// never held across Detach so callbacks may read the switcher.
	switchMu sync.Mutex
	mu       sync.Mutex
	active   *Attachment
}

// NewSwitcher returns a switcher delivering to cb.
func NewSwitcher(l *Listener, cb Callback) *Switcher {
	return &Switcher{l: l, cb: cb}
}

// Switch detaches the current conversation and attaches conversationID.
// Switching to the active conversation is a no-op.
func (s *Switcher) Switch(ctx context.Context, conversationID string) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	old := s.active
	if old != nil && old.ConversationID() == conversationID {
		s.mu.Unlock()
		return nil
	}
	s.active = nil
	s.mu.Unlock()

	if old != nil {
		old.Detach()
	}
	a, err := s.l.Attach(ctx, conversationID, s.cb)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.active = a
	s.mu.Unlock()
	return nil
}

// Close detaches the active conversation.
func (s *Switcher) Close() {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()

	s.mu.Lock()
	old := s.active
	s.active = nil
	s.mu.Unlock()
	if old != nil {
		old.Detach()
	}
}

// Active returns the active conversation id.
func (s *Switcher) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.ConversationID(), true
}

// Messages returns the active projection.
func (s *Switcher) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	return s.active.Messages()
}
