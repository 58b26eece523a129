// Package realtime owns the single push-messaging channel of a process.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/clock"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/status"
)

var (
	// ErrDegraded is the reason once the failure cap is reached.
	ErrDegraded = errors.New("realtime: unavailable after repeated connection failures")
	// ErrWaitTimeout is the reason given to callers that joined an
	// in-flight acquisition which did not finish in time.
	ErrWaitTimeout = errors.New("realtime: timed out waiting for in-flight connection")
	// ErrReleased is the reason when Release ran during the acquisition.
	ErrReleased = errors.New("realtime: released during acquisition")
)

const acquireKey = "acquire"

// Options bounds acquisition.
type Options struct {
	ConnectTimeout time.Duration
	WaitTimeout    time.Duration
	MaxFailures    int
}

func (o *Options) defaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 5 * time.Second
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = 3
	}
}

// Info is a point-in-time view of the manager.
type Info struct {
	State     status.State
	Failures  int
	ChannelID string
}

// Manager lazily creates, reuses and tears down the channel. Acquire
// never fails; it degrades to Unavailable.
type Manager struct {
	dialer   Dialer
	identity identity.Source
	status   *status.Machine
	bus      *bus.Bus
	clock    clock.Clock
	logger   *zap.Logger
	opts     Options

	group singleflight.Group

	mu       sync.Mutex
	handle   Channel
	offs     []func()
	failures int
	inflight bool
	gen      uint64
}

// NewManager returns an idle manager. status and b may be nil.
func NewManager(d Dialer, src identity.Source, st *status.Machine, b *bus.Bus, clk clock.Clock, logger *zap.Logger, opts Options) *Manager {
	opts.defaults()
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		st = status.NewMachine(b)
	}
	return &Manager{
		dialer:   d,
		identity: src,
		status:   st,
		bus:      b,
		clock:    clk,
		logger:   logger,
		opts:     opts,
	}
}

// Acquire returns the live channel, joins an in-flight acquisition or
// starts a new one.
func (m *Manager) Acquire(ctx context.Context) Result {
	m.mu.Lock()
	if m.handle != nil {
		if m.handle.Connected() {
			h := m.handle
			m.mu.Unlock()
			return Connected{Channel: h}
		}
		m.discardLocked()
		m.transition(status.Disconnected)
	}
	if m.failures >= m.opts.MaxFailures {
		m.mu.Unlock()
		return Unavailable{Reason: ErrDegraded}
	}
	joining := m.inflight
	m.inflight = true
	gen := m.gen
	m.mu.Unlock()

	ch := m.group.DoChan(acquireKey, func() (any, error) {
		return m.connect(gen)
	})

	var wait <-chan time.Time
	if joining {
		wait = m.clock.After(m.opts.WaitTimeout)
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			return Unavailable{Reason: res.Err}
		}
		return Connected{Channel: res.Val.(Channel)}
	case <-wait:
		return Unavailable{Reason: ErrWaitTimeout}
	case <-ctx.Done():
		return Unavailable{Reason: ctx.Err()}
	}
}

func (m *Manager) connect(gen uint64) (Channel, error) {
	defer func() {
		m.mu.Lock()
		if m.gen == gen {
			m.inflight = false
		}
		m.mu.Unlock()
	}()

	m.mu.Lock()
	if m.handle != nil && m.handle.Connected() {
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}
	if m.failures >= m.opts.MaxFailures {
		m.mu.Unlock()
		return nil, ErrDegraded
	}
	m.mu.Unlock()

	if _, ok := m.identity.Current(); !ok {
		m.transition(status.AuthRequired)
		return nil, identity.ErrNotAuthenticated
	}

	m.transition(status.Connecting)
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	defer cancel()

	token, err := m.identity.Token(ctx, true)
	if err != nil {
		return nil, m.fail(gen, fmt.Errorf("get token: %w", err))
	}
	ch, err := m.dialer.Dial(ctx, token)
	if err != nil {
		return nil, m.fail(gen, err)
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = ch.Close()
		return nil, ErrReleased
	}
	m.handle = ch
	m.failures = 0
	m.offs = []func(){
		ch.On(EventDisconnect, func(json.RawMessage) {
			m.logger.Info("realtime channel disconnected", zap.String("channel", ch.ID()))
			m.transition(status.Disconnected)
		}),
		ch.On(EventReconnect, func(json.RawMessage) {
			m.logger.Info("realtime channel reconnected", zap.String("channel", ch.ID()))
			m.transition(status.Connected)
		}),
	}
	m.mu.Unlock()

	m.logger.Info("realtime channel connected", zap.String("channel", ch.ID()))
	m.transition(status.Connected)
	m.bus.Emit(bus.KindRealtimeConnected, ch.ID())
	return ch, nil
}

func (m *Manager) fail(gen uint64, err error) error {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return ErrReleased
	}
	if m.failures < m.opts.MaxFailures {
		m.failures++
	}
	n := m.failures
	m.mu.Unlock()

	m.logger.Warn("realtime connection failed",
		zap.Int("failures", n),
		zap.Int("max_failures", m.opts.MaxFailures),
		zap.Error(err),
	)
	if n >= m.opts.MaxFailures {
		m.transition(status.Degraded)
	} else {
		m.transition(status.Idle)
	}
	return err
}

// Release tears down the channel and clears failure and in-flight state.
// An acquisition still running when Release is called is discarded.
func (m *Manager) Release() {
	m.mu.Lock()
	m.discardLocked()
	m.failures = 0
	m.inflight = false
	m.gen++
	m.mu.Unlock()

	m.group.Forget(acquireKey)
	m.transition(status.Idle)
}

// discardLocked requires m.mu.
func (m *Manager) discardLocked() {
	for _, off := range m.offs {
		off()
	}
	m.offs = nil
	if m.handle != nil {
		if err := m.handle.Close(); err != nil {
			m.logger.Debug("close realtime channel", zap.Error(err))
		}
		m.handle = nil
	}
}

// Info reports the current state.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{State: m.status.Current(), Failures: m.failures}
	if m.handle != nil {
		info.ChannelID = m.handle.ID()
	}
	return info
}

func (m *Manager) transition(to status.State) {
	if err := m.status.Transition(to); err != nil {
		m.logger.Debug("realtime status transition skipped", zap.Error(err))
	}
}
