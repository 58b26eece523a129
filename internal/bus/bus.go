package bus

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hireme/chatsync/internal/clock"
)

// Bus fans events out to subscribers by kind prefix. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	clock clock.Clock

	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	dropped atomic.Uint64
}

type subscription struct {
	prefix string
	ch     chan Event
}

// Option configures New.
type Option func(*Bus)

// WithClock sets the clock used to stamp events.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) { b.clock = c }
}

func New(opts ...Option) *Bus {
	b := &Bus{clock: clock.Real(), subs: make(map[uint64]*subscription)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// A zero Timestamp is set from the bus clock. Publish on a nil bus is a
// no-op.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.clock.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes kind with payload.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Payload: payload})
}

// Subscribe registers for kinds starting with prefix; "" matches all. The
// returned func unsubscribes and may be called more than once. The channel
// is never closed.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	sub := &subscription{prefix: prefix, ch: make(chan Event, bufSize)}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
