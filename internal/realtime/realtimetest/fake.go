// Package realtimetest provides in-memory channels and dialers for tests.
package realtimetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hireme/chatsync/internal/realtime"
)

// Emitted is one outbound frame recorded by a Channel.
type Emitted struct {
	Event   string
	Payload any
}

// Channel is a realtime.Channel driven by the test.
type Channel struct {
	id string

	mu        sync.Mutex
	connected bool
	closed    bool
	handlers  map[string]map[int]realtime.Handler
	next      int
	emitted   []Emitted
	emitErr   error
}

// NewChannel returns a connected channel.
func NewChannel(id string) *Channel {
	return &Channel{id: id, connected: true, handlers: make(map[string]map[int]realtime.Handler)}
}

func (c *Channel) ID() string { return c.id }

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

func (c *Channel) On(event string, h realtime.Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]realtime.Handler)
	}
	c.handlers[event][id] = h
	return func() {
		c.mu.Lock()
		delete(c.handlers[event], id)
		c.mu.Unlock()
	}
}

func (c *Channel) Emit(_ context.Context, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	if !c.connected || c.closed {
		return realtime.ErrNotConnected
	}
	c.emitted = append(c.emitted, Emitted{Event: event, Payload: payload})
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetConnected flips the connection flag without dispatching events.
func (c *Channel) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// SetEmitError makes every Emit fail with err.
func (c *Channel) SetEmitError(err error) {
	c.mu.Lock()
	c.emitErr = err
	c.mu.Unlock()
}

// Deliver dispatches an inbound event with payload marshaled as data.
func (c *Channel) Deliver(event string, payload any) {
	data, _ := json.Marshal(payload)
	c.mu.Lock()
	hs := make([]realtime.Handler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

// Handlers returns how many handlers are registered for event.
func (c *Channel) Handlers(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// Emitted returns a copy of the recorded outbound frames.
func (c *Channel) Emitted() []Emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Emitted(nil), c.emitted...)
}

// Dialer counts dials and returns scripted results.
type Dialer struct {
	mu       sync.Mutex
	dials    int
	tokens   []string
	errs     []error
	channels []*Channel
	// Block, when set, is waited on by every Dial.
	Block chan struct{}
	// Entered receives one value per Dial call before it blocks.
	Entered chan struct{}
}

// NewDialer returns a dialer that succeeds unless errors are queued.
func NewDialer() *Dialer { return &Dialer{} }

// FailNext queues errors returned by the next dials, in order.
func (d *Dialer) FailNext(errs ...error) {
	d.mu.Lock()
	d.errs = append(d.errs, errs...)
	d.mu.Unlock()
}

func (d *Dialer) Dial(ctx context.Context, token string) (realtime.Channel, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.tokens = append(d.tokens, token)
	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	block, entered := d.Block, d.Entered
	d.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	ch := NewChannel(fmt.Sprintf("ch-%d", n))
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

// Dials returns how many times Dial was called.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Tokens returns the tokens passed to Dial.
func (d *Dialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

// Last returns the most recently created channel.
func (d *Dialer) Last() *Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}
