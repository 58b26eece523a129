package presence

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/clock"
	"github.com/hireme/chatsync/internal/pushdb"
)

// TypingPublisher sends the local user's typing flag.
type TypingPublisher interface {
	SetTyping(ctx context.Context, conversationID string, isTyping bool) error
}

type typingSignal struct {
	conversationID string
	isTyping       bool
}

// TypingSender turns keystrokes into typing=true and one trailing
// typing=false per burst. Signals are sent in order by one worker. Unsent
// signals coalesce per conversation, so a slow publisher sees the latest
// state and never loses a trailing false.
type TypingSender struct {
	pub     TypingPublisher
	idle    *clock.Debouncer
	logger  *zap.Logger
	timeout time.Duration

	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	conv    string
	pending []typingSignal
	closed  bool
}

// NewTypingSender starts the send worker. idle is the inactivity delay
// before typing=false.
func NewTypingSender(pub TypingPublisher, clk clock.Clock, idle time.Duration, logger *zap.Logger) *TypingSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if idle <= 0 {
		idle = time.Second
	}
	s := &TypingSender{
		pub:     pub,
		idle:    clock.NewDebouncer(clk, idle),
		logger:  logger,
		timeout: 5 * time.Second,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Keystroke signals activity in conversationID. Switching conversations
// first flushes the pending typing=false of the previous one.
func (s *TypingSender) Keystroke(conversationID string) {
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	prev := s.conv
	s.conv = conversationID
	s.mu.Unlock()
	if prev != "" && prev != conversationID {
		s.idle.Flush()
	}

	s.enqueue(typingSignal{conversationID: conversationID, isTyping: true})
	s.idle.Schedule(func() {
		s.enqueue(typingSignal{conversationID: conversationID, isTyping: false})
	})
}

// Idle sends the pending typing=false now, as after a send.
func (s *TypingSender) Idle() {
	s.idle.Flush()
}

// Close flushes the pending typing=false and stops the worker once every
// queued signal is sent.
func (s *TypingSender) Close() {
	s.idle.Flush()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

func (s *TypingSender) enqueue(sig typingSignal) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = coalesce(s.pending, sig)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// coalesce merges sig into the unsent signals. Per conversation the queue
// holds at most a false followed by a true.
func coalesce(pending []typingSignal, sig typingSignal) []typingSignal {
	last, prev := -1, -1
	for i, p := range pending {
		if p.conversationID == sig.conversationID {
			prev, last = last, i
		}
	}
	switch {
	case last < 0:
		return append(pending, sig)
	case pending[last].isTyping == sig.isTyping:
		return pending
	case sig.isTyping:
		return append(pending, sig)
	case prev >= 0:
		// An unsent false already ends the earlier burst and nothing of
		// this one went out.
		return slices.Delete(pending, last, last+1)
	default:
		pending[last].isTyping = false
		return pending
	}
}

func (s *TypingSender) next() (typingSignal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return typingSignal{}, false
	}
	sig := s.pending[0]
	s.pending = slices.Delete(s.pending, 0, 1)
	return sig, true
}

func (s *TypingSender) run() {
	for {
		for sig, ok := s.next(); ok; sig, ok = s.next() {
			s.send(sig)
		}
		select {
		case <-s.wake:
		case <-s.done:
			for sig, ok := s.next(); ok; sig, ok = s.next() {
				s.send(sig)
			}
			return
		}
	}
}

func (s *TypingSender) send(sig typingSignal) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.pub.SetTyping(ctx, sig.conversationID, sig.isTyping); err != nil {
		s.logger.Debug("typing beacon failed",
			zap.String("conversation", sig.conversationID),
			zap.Bool("is_typing", sig.isTyping),
			zap.Error(err))
	}
}

// TypingState is the bus payload of conversation.typing.
type TypingState struct {
	ConversationID string
	Users          []string
}

// TypingWatcher reports which other users are typing in one
// conversation. Entries older than the stale window are inactive whatever
// their flag says.
type TypingWatcher struct {
	store    pushdb.Store
	self     string
	clock    clock.Clock
	stale    time.Duration
	bus      *bus.Bus
	logger   *zap.Logger
	onChange func(TypingState)

	notifyMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	conv    string
	sub     *pushdb.Subscription
	entries map[string]chat.Typing
	timer   *clock.Timer
	last    []string
}

// NewTypingWatcher returns a watcher excluding selfID. onChange may be nil.
func NewTypingWatcher(store pushdb.Store, selfID string, clk clock.Clock, stale time.Duration, b *bus.Bus, logger *zap.Logger, onChange func(TypingState)) *TypingWatcher {
	if clk == nil {
		clk = clock.Real()
	}
	if stale <= 0 {
		stale = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypingWatcher{
		store:    store,
		self:     selfID,
		clock:    clk,
		stale:    stale,
		bus:      b,
		logger:   logger,
		onChange: onChange,
	}
}

// Watch switches the watcher to conversationID.
func (w *TypingWatcher) Watch(ctx context.Context, conversationID string) error {
	w.Stop()

	w.mu.Lock()
	w.gen++
	gen := w.gen
	w.conv = conversationID
	w.entries = nil
	w.last = nil
	w.mu.Unlock()

	sub, err := w.store.Subscribe(ctx, pushdb.TypingPath(conversationID), func(snap pushdb.Snapshot) {
		w.onSnapshot(gen, snap)
	})
	if err != nil {
		return err
	}
	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		sub.Cancel()
		return nil
	}
	w.sub = sub
	w.mu.Unlock()
	return nil
}

// Stop cancels the subscription and pending re-evaluation. No onChange
// call is in progress or will start once Stop returns. It must not be
// called from onChange.
func (w *TypingWatcher) Stop() {
	w.mu.Lock()
	w.gen++
	sub := w.sub
	w.sub = nil
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	w.notifyMu.Lock()
	// Wait out an in-flight notification.
	w.notifyMu.Unlock()
}

// Typing returns the other users currently typing, evaluated now.
func (w *TypingWatcher) Typing() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	users, _ := w.activeLocked()
	return users
}

func (w *TypingWatcher) onSnapshot(gen uint64, snap pushdb.Snapshot) {
	entries := make(map[string]chat.Typing, len(snap))
	for uid, raw := range snap {
		var t chat.Typing
		if err := json.Unmarshal(raw, &t); err != nil {
			w.logger.Debug("skip malformed typing entry", zap.String("user", uid), zap.Error(err))
			continue
		}
		entries[uid] = t
	}
	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		return
	}
	w.entries = entries
	w.mu.Unlock()
	w.evaluate(gen)
}

func (w *TypingWatcher) evaluate(gen uint64) {
	w.notifyMu.Lock()
	defer w.notifyMu.Unlock()

	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		return
	}
	users, next := w.activeLocked()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if !next.IsZero() {
		// One millisecond past expiry the entry is strictly older than the window.
		delay := next.Sub(w.clock.Now()) + time.Millisecond
		w.timer = w.clock.AfterFunc(delay, func() { w.evaluate(gen) })
	}
	changed := !slices.Equal(users, w.last)
	w.last = users
	conv := w.conv
	w.mu.Unlock()

	if !changed {
		return
	}
	state := TypingState{ConversationID: conv, Users: users}
	if w.onChange != nil {
		w.onChange(state)
	}
	w.bus.Emit(bus.KindConversationTyping, state)
}

// activeLocked requires w.mu. It returns the sorted active users and the
// earliest time one of them goes stale.
func (w *TypingWatcher) activeLocked() ([]string, time.Time) {
	now := w.clock.Now()
	var users []string
	var next time.Time
	for uid, t := range w.entries {
		if uid == w.self || !t.IsTyping {
			continue
		}
		expires := time.UnixMilli(t.Timestamp).Add(w.stale)
		if now.After(expires) {
			continue
		}
		users = append(users, uid)
		if next.IsZero() || expires.Before(next) {
			next = expires
		}
	}
	slices.Sort(users)
	return users, next
}
