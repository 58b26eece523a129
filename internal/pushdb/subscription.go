package pushdb

import (
	"sync"
	"sync/atomic"
)

// Subscription is a cancellable snapshot subscription. Deliveries run on
// one goroutine and coalesce: a slow handler sees the latest snapshot,
// never a stale one.
type Subscription struct {
	path string
	fn   Handler
	stop func()

	deliverMu sync.Mutex
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
	notify    chan struct{}

	pendingMu sync.Mutex
	pending   Snapshot
	has       bool
}

func newSubscription(path string, fn Handler) *Subscription {
	s := &Subscription{
		path:   path,
		fn:     fn,
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
	go s.run()
	return s
}

// Path returns the subscribed parent path.
func (s *Subscription) Path() string { return s.path }

// Active reports whether the subscription has not been cancelled.
func (s *Subscription) Active() bool { return !s.cancelled.Load() }

// Cancel stops deliveries. When Cancel returns no handler call is in
// progress and none will start. It must not be called from the handler.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		close(s.done)
		s.deliverMu.Lock()
		// Wait out an in-flight delivery.
		s.deliverMu.Unlock()
		if s.stop != nil {
			s.stop()
		}
	})
}

func (s *Subscription) offer(snap Snapshot) {
	if s.cancelled.Load() {
		return
	}
	s.pendingMu.Lock()
	s.pending = snap
	s.has = true
	s.pendingMu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		s.pendingMu.Lock()
		snap, ok := s.pending, s.has
		s.pending, s.has = nil, false
		s.pendingMu.Unlock()
		if !ok {
			continue
		}

		s.deliverMu.Lock()
		if !s.cancelled.Load() {
			s.fn(snap)
		}
		s.deliverMu.Unlock()
	}
}
