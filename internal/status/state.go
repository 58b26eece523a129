// Package status tracks the state of the profile's realtime channel and
// announces every change on the bus.
package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/clock"
)

// State is the realtime channel state.
type State string

const (
	Idle         State = "IDLE"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Disconnected State = "DISCONNECTED"
	Degraded     State = "DEGRADED"
)

// ErrInvalidTransition is wrapped by Transition when the move is not allowed.
var ErrInvalidTransition = errors.New("status: invalid transition")

// Every state may fall back to Idle on release. Degraded only leaves through
// a fresh attempt or a release.
var edges = map[State][]State{
	Idle:         {Connecting, AuthRequired, Degraded},
	AuthRequired: {Connecting, Idle},
	Connecting:   {Connected, Idle, AuthRequired, Degraded},
	Connected:    {Disconnected, Idle},
	Disconnected: {Connected, Connecting, Idle, AuthRequired, Degraded},
	Degraded:     {Connecting, Idle},
}

// Change is the bus payload for KindStatusChanged.
type Change struct {
	From State
	To   State
	At   time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the clock that stamps state entry times.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// Machine holds the current state. A nil bus is allowed.
type Machine struct {
	bus   *bus.Bus
	clock clock.Clock

	mu      sync.RWMutex
	current State
	since   time.Time
	changes uint64
}

// NewMachine returns a machine in Idle.
func NewMachine(b *bus.Bus, opts ...Option) *Machine {
	m := &Machine{bus: b, clock: clock.Real(), current: Idle}
	for _, opt := range opts {
		opt(m)
	}
	m.since = m.clock.Now()
	return m
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Changes counts the transitions taken so far.
func (m *Machine) Changes() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changes
}

// Can reports whether the machine may move to the given state right now.
func (m *Machine) Can(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == to || slices.Contains(edges[m.current], to)
}

// Transition moves to the given state and publishes a Change. Moving to the
// current state does nothing.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if m.current == to {
		m.mu.Unlock()
		return nil
	}
	if !slices.Contains(edges[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	change := Change{From: m.current, To: to, At: m.clock.Now()}
	m.current, m.since = to, change.At
	m.changes++
	m.mu.Unlock()

	m.bus.Publish(bus.Event{Kind: bus.KindStatusChanged, Timestamp: change.At, Payload: change})
	return nil
}
