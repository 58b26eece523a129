package realtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/clock"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/realtime"
	"github.com/hireme/chatsync/internal/realtime/realtimetest"
	"github.com/hireme/chatsync/internal/status"
)

func signedInSession() *identity.Session {
	s := identity.NewSession(identity.NewIssuer("secret", time.Hour, nil), nil)
	s.SignIn(identity.Principal{UserID: "u1"})
	return s
}

func newManager(d realtime.Dialer, src identity.Source, clk clock.Clock) (*realtime.Manager, *status.Machine) {
	st := status.NewMachine(nil)
	return realtime.NewManager(d, src, st, nil, clk, nil, realtime.Options{}), st
}

func mustConnected(t *testing.T, r realtime.Result) realtime.Channel {
	t.Helper()
	c, ok := r.(realtime.Connected)
	if !ok {
		t.Fatalf("Acquire() = %#v, want Connected", r)
	}
	return c.Channel
}

func mustUnavailable(t *testing.T, r realtime.Result, want error) {
	t.Helper()
	u, ok := r.(realtime.Unavailable)
	if !ok {
		t.Fatalf("Acquire() = %#v, want Unavailable", r)
	}
	if want != nil && !errors.Is(u.Reason, want) {
		t.Errorf("Unavailable reason = %v, want %v", u.Reason, want)
	}
}

func TestAcquireReusesConnectedHandle(t *testing.T) {
	d := realtimetest.NewDialer()
	m, st := newManager(d, signedInSession(), nil)
	ctx := context.Background()

	first := mustConnected(t, m.Acquire(ctx))
	second := mustConnected(t, m.Acquire(ctx))
	if first != second {
		t.Error("Acquire() returned a different handle while connected")
	}
	if d.Dials() != 1 {
		t.Errorf("dials = %d, want 1", d.Dials())
	}
	if st.Current() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", st.Current())
	}
	if m.Info().ChannelID != first.ID() {
		t.Errorf("Info().ChannelID = %q, want %q", m.Info().ChannelID, first.ID())
	}
}

func TestReleaseThenAcquireCreatesNewHandle(t *testing.T) {
	d := realtimetest.NewDialer()
	m, st := newManager(d, signedInSession(), nil)
	ctx := context.Background()

	first := mustConnected(t, m.Acquire(ctx))
	m.Release()
	if !first.(*realtimetest.Channel).Closed() {
		t.Error("Release() did not close the handle")
	}
	if st.Current() != status.Idle {
		t.Errorf("state after Release = %s, want IDLE", st.Current())
	}

	second := mustConnected(t, m.Acquire(ctx))
	if first == second {
		t.Error("Acquire() after Release returned the old handle")
	}
	if d.Dials() != 2 {
		t.Errorf("dials = %d, want 2", d.Dials())
	}
}

func TestDisconnectedHandleIsDiscarded(t *testing.T) {
	d := realtimetest.NewDialer()
	m, _ := newManager(d, signedInSession(), nil)
	ctx := context.Background()

	first := mustConnected(t, m.Acquire(ctx)).(*realtimetest.Channel)
	first.SetConnected(false)

	second := mustConnected(t, m.Acquire(ctx))
	if second == realtime.Channel(first) {
		t.Error("Acquire() returned the disconnected handle")
	}
	if !first.Closed() {
		t.Error("disconnected handle was not closed")
	}
	if first.Handlers(realtime.EventDisconnect) != 0 {
		t.Error("handlers still registered on discarded handle")
	}
}

func TestFailureCapShortCircuits(t *testing.T) {
	d := realtimetest.NewDialer()
	dialErr := errors.New("connection refused")
	d.FailNext(dialErr, dialErr, dialErr)
	m, st := newManager(d, signedInSession(), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustUnavailable(t, m.Acquire(ctx), dialErr)
	}
	if d.Dials() != 3 {
		t.Fatalf("dials = %d, want 3", d.Dials())
	}
	if st.Current() != status.Degraded {
		t.Errorf("state = %s, want DEGRADED", st.Current())
	}

	mustUnavailable(t, m.Acquire(ctx), realtime.ErrDegraded)
	mustUnavailable(t, m.Acquire(ctx), realtime.ErrDegraded)
	if d.Dials() != 3 {
		t.Errorf("dials after cap = %d, want 3 (no network I/O)", d.Dials())
	}

	m.Release()
	mustConnected(t, m.Acquire(ctx))
	if d.Dials() != 4 {
		t.Errorf("dials after Release = %d, want 4", d.Dials())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	d := realtimetest.NewDialer()
	dialErr := errors.New("timeout")
	d.FailNext(dialErr, dialErr)
	m, _ := newManager(d, signedInSession(), nil)
	ctx := context.Background()

	mustUnavailable(t, m.Acquire(ctx), dialErr)
	mustUnavailable(t, m.Acquire(ctx), dialErr)
	if got := m.Info().Failures; got != 2 {
		t.Fatalf("failures = %d, want 2", got)
	}

	ch := mustConnected(t, m.Acquire(ctx)).(*realtimetest.Channel)
	if got := m.Info().Failures; got != 0 {
		t.Errorf("failures after success = %d, want 0", got)
	}

	// Two more failures after a success do not reach the cap.
	ch.SetConnected(false)
	d.FailNext(dialErr, dialErr)
	mustUnavailable(t, m.Acquire(ctx), dialErr)
	mustUnavailable(t, m.Acquire(ctx), dialErr)
	mustConnected(t, m.Acquire(ctx))
}

func TestNotAuthenticatedIsNotCounted(t *testing.T) {
	d := realtimetest.NewDialer()
	src := identity.NewSession(identity.NewIssuer("secret", time.Hour, nil), nil)
	m, st := newManager(d, src, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustUnavailable(t, m.Acquire(ctx), identity.ErrNotAuthenticated)
	}
	if d.Dials() != 0 {
		t.Errorf("dials = %d, want 0", d.Dials())
	}
	if m.Info().Failures != 0 {
		t.Errorf("failures = %d, want 0", m.Info().Failures)
	}
	if st.Current() != status.AuthRequired {
		t.Errorf("state = %s, want AUTH_REQUIRED", st.Current())
	}

	src.SignIn(identity.Principal{UserID: "u1"})
	mustConnected(t, m.Acquire(ctx))
}

func TestDialUsesFreshToken(t *testing.T) {
	d := realtimetest.NewDialer()
	m, _ := newManager(d, signedInSession(), nil)
	mustConnected(t, m.Acquire(context.Background()))

	tokens := d.Tokens()
	if len(tokens) != 1 || tokens[0] == "" {
		t.Fatalf("tokens = %q", tokens)
	}
}

func TestConcurrentAcquireJoinsInFlight(t *testing.T) {
	d := realtimetest.NewDialer()
	d.Block = make(chan struct{})
	d.Entered = make(chan struct{}, 1)
	m, _ := newManager(d, signedInSession(), nil)
	ctx := context.Background()

	results := make(chan realtime.Result, 2)
	go func() { results <- m.Acquire(ctx) }()
	<-d.Entered
	go func() { results <- m.Acquire(ctx) }()

	time.Sleep(20 * time.Millisecond)
	close(d.Block)

	a := mustConnected(t, <-results)
	b := mustConnected(t, <-results)
	if a != b {
		t.Error("joined acquisition got a different handle")
	}
	if d.Dials() != 1 {
		t.Errorf("dials = %d, want 1", d.Dials())
	}
}

func TestJoinerGivesUpAfterWaitTimeout(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	d := realtimetest.NewDialer()
	d.Block = make(chan struct{})
	d.Entered = make(chan struct{}, 1)
	m, _ := newManager(d, signedInSession(), clk)
	ctx := context.Background()

	starter := make(chan realtime.Result, 1)
	go func() { starter <- m.Acquire(ctx) }()
	<-d.Entered

	joiner := make(chan realtime.Result, 1)
	go func() { joiner <- m.Acquire(ctx) }()
	for clk.Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	clk.Advance(5 * time.Second)

	mustUnavailable(t, <-joiner, realtime.ErrWaitTimeout)

	close(d.Block)
	mustConnected(t, <-starter)
}

func TestReleaseDuringAcquisitionDiscardsResult(t *testing.T) {
	d := realtimetest.NewDialer()
	d.Block = make(chan struct{})
	d.Entered = make(chan struct{}, 1)
	m, _ := newManager(d, signedInSession(), nil)
	ctx := context.Background()

	res := make(chan realtime.Result, 1)
	go func() { res <- m.Acquire(ctx) }()
	<-d.Entered
	m.Release()
	close(d.Block)

	mustUnavailable(t, <-res, realtime.ErrReleased)
	if ch := d.Last(); ch == nil || !ch.Closed() {
		t.Error("channel created after Release was not closed")
	}
	if m.Info().ChannelID != "" {
		t.Error("manager kept a handle created before Release")
	}
}

func TestAcquireHonoursCallerContext(t *testing.T) {
	d := realtimetest.NewDialer()
	d.Block = make(chan struct{})
	defer close(d.Block)
	m, _ := newManager(d, signedInSession(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	mustUnavailable(t, m.Acquire(ctx), context.DeadlineExceeded)
}

func TestDisconnectAndReconnectDriveStatus(t *testing.T) {
	d := realtimetest.NewDialer()
	b := bus.New()
	events, unsub := b.Subscribe("realtime.", 16)
	defer unsub()
	st := status.NewMachine(b)
	m := realtime.NewManager(d, signedInSession(), st, b, nil, nil, realtime.Options{})

	ch := mustConnected(t, m.Acquire(context.Background())).(*realtimetest.Channel)

	ch.Deliver(realtime.EventDisconnect, map[string]string{"reason": "transport error"})
	if st.Current() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", st.Current())
	}
	ch.Deliver(realtime.EventReconnect, map[string]int{"attempt": 1})
	if st.Current() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", st.Current())
	}

	var sawConnected bool
	timeout := time.After(time.Second)
	for !sawConnected {
		select {
		case evt := <-events:
			if evt.Kind == bus.KindRealtimeConnected {
				sawConnected = true
			}
		case <-timeout:
			t.Fatal("no realtime.connected event")
		}
	}
}
