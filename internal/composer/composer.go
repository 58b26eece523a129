// Package composer holds the message input of the active conversation
// and submits it.
package composer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/rest"
)

// Guarded submissions. None of them reaches the network.
var (
	ErrEmpty          = errors.New("composer: message is empty")
	ErrNoConversation = errors.New("composer: no active conversation")
	ErrInFlight       = errors.New("composer: a send is already in flight")
)

// FallbackMessage is shown when a failed send carries no server message.
const FallbackMessage = "Failed to send message"

// Sender posts a message.
type Sender interface {
	SendMessage(ctx context.Context, req chat.SendRequest) (chat.SendResult, error)
}

// Typing receives keystroke activity.
type Typing interface {
	Keystroke(conversationID string)
	Idle()
}

// Journal records send attempts.
type Journal interface {
	RecordQueued(ctx context.Context, a chat.SendAttempt) error
	RecordResult(ctx context.Context, clientID, state, messageID, errText string) error
}

// Target is the conversation a submission goes to.
type Target struct {
	ConversationID string
	ReceiverID     string
}

// SendError is a failed send. Error returns the text to show the user.
type SendError struct {
	Text string
	Err  error
}

func (e *SendError) Error() string { return e.Text }
func (e *SendError) Unwrap() error { return e.Err }

// Sent is the bus payload of composer.sent.
type Sent struct {
	ClientID string
	Target   Target
	Result   chat.SendResult
}

// Failed is the bus payload of composer.failed.
type Failed struct {
	ClientID string
	Target   Target
	Text     string
}

// Options configures a Composer. Typing and Journal may be nil.
type Options struct {
	Typing  Typing
	Journal Journal
	Bus     *bus.Bus
	Logger  *zap.Logger
	Now     func() time.Time
}

// Composer is goroutine-safe.
type Composer struct {
	sender  Sender
	typing  Typing
	journal Journal
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	text    string
	target  *Target
	sending bool
}

// New returns an empty composer without a target.
func New(sender Sender, opts Options) *Composer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Composer{
		sender:  sender,
		typing:  opts.Typing,
		journal: opts.Journal,
		bus:     opts.Bus,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// SetTarget makes t the active conversation and clears the input.
func (c *Composer) SetTarget(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = &t
	c.text = ""
}

// ClearTarget leaves the composer without an active conversation.
func (c *Composer) ClearTarget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = nil
	c.text = ""
}

// SetText replaces the input. Non-empty input counts as a keystroke.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	c.text = text
	var conv string
	if c.target != nil {
		conv = c.target.ConversationID
	}
	c.mu.Unlock()
	if text != "" && conv != "" && c.typing != nil {
		c.typing.Keystroke(conv)
	}
}

// Text returns the current input.
func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Sending reports whether a submission is in flight.
func (c *Composer) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Submit sends the input to the active conversation. The input is cleared
// before the request and restored if it fails. The message itself is not
// appended anywhere: it shows up through the conversation subscription.
func (c *Composer) Submit(ctx context.Context) (chat.SendResult, error) {
	c.mu.Lock()
	original := c.text
	content := strings.TrimSpace(original)
	switch {
	case content == "":
		c.mu.Unlock()
		return chat.SendResult{}, ErrEmpty
	case c.target == nil:
		c.mu.Unlock()
		return chat.SendResult{}, ErrNoConversation
	case c.sending:
		c.mu.Unlock()
		return chat.SendResult{}, ErrInFlight
	}
	target := *c.target
	c.sending = true
	c.text = ""
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	if c.typing != nil {
		c.typing.Idle()
	}

	clientID := uuid.NewString()
	c.record(ctx, chat.SendAttempt{
		ClientID:       clientID,
		ConversationID: target.ConversationID,
		ReceiverID:     target.ReceiverID,
		Content:        content,
		State:          chat.SendQueued,
		CreatedAt:      c.now(),
	})

	res, err := c.sender.SendMessage(ctx, chat.SendRequest{
		ConversationID: target.ConversationID,
		ReceiverID:     target.ReceiverID,
		Content:        content,
	})
	if err != nil {
		c.mu.Lock()
		c.text = original
		c.mu.Unlock()

		text := rest.UserMessage(err, FallbackMessage)
		c.logger.Warn("send failed",
			zap.String("conversation", target.ConversationID),
			zap.String("client_id", clientID),
			zap.Error(err))
		c.result(ctx, clientID, chat.SendFailed, "", text)
		c.bus.Emit(bus.KindComposerFailed, Failed{ClientID: clientID, Target: target, Text: text})
		return chat.SendResult{}, &SendError{Text: text, Err: err}
	}

	c.logger.Debug("message sent",
		zap.String("conversation", target.ConversationID),
		zap.String("message_id", res.ID))
	c.result(ctx, clientID, chat.SendSent, res.ID, "")
	c.bus.Emit(bus.KindComposerSent, Sent{ClientID: clientID, Target: target, Result: res})
	return res, nil
}

func (c *Composer) record(ctx context.Context, a chat.SendAttempt) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordQueued(context.WithoutCancel(ctx), a); err != nil {
		c.logger.Warn("journal queue failed", zap.String("client_id", a.ClientID), zap.Error(err))
	}
}

func (c *Composer) result(ctx context.Context, clientID, state, messageID, errText string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordResult(context.WithoutCancel(ctx), clientID, state, messageID, errText); err != nil {
		c.logger.Warn("journal update failed", zap.String("client_id", clientID), zap.Error(err))
	}
}
