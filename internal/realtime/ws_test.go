package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testServer accepts handshakes with token "good", records inbound
// frames and exposes the server side of each connection.
type testServer struct {
	*httptest.Server
	silent bool

	mu       sync.Mutex
	conns    []*websocket.Conn
	inbound  []Frame
	received chan Frame
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{received: make(chan Frame, 16)}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var hs Handshake
		if err := conn.ReadJSON(&hs); err != nil {
			_ = conn.Close()
			return
		}
		if ts.silent {
			return
		}
		if hs.Auth.Token != "good" {
			data, _ := json.Marshal(ConnectError{Message: "invalid token"})
			_ = conn.WriteJSON(Frame{Event: EventConnectError, Data: data})
			_ = conn.Close()
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		n := len(ts.conns)
		ts.mu.Unlock()
		data, _ := json.Marshal(ConnectAck{ID: "sock-" + string(rune('0'+n))})
		_ = conn.WriteJSON(Frame{Event: EventConnect, Data: data})
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ts.received <- f
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) url() string { return "ws" + strings.TrimPrefix(ts.URL, "http") }

func (ts *testServer) conn(i int) *websocket.Conn {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.conns[i]
}

func (ts *testServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns)
}

func dialTest(t *testing.T, d *WSDialer, token string) (Channel, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return d.Dial(ctx, token)
}

func TestWSDialHandshake(t *testing.T) {
	ts := newTestServer(t)
	ch, err := dialTest(t, &WSDialer{URL: ts.url()}, "good")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ch.Close()

	if ch.ID() != "sock-1" {
		t.Errorf("ID() = %q, want sock-1", ch.ID())
	}
	if !ch.Connected() {
		t.Error("Connected() = false after handshake")
	}
}

func TestWSConnectError(t *testing.T) {
	ts := newTestServer(t)
	_, err := dialTest(t, &WSDialer{URL: ts.url()}, "bad")
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("Dial() error = %v, want ConnectError", err)
	}
	if ce.Message != "invalid token" {
		t.Errorf("Message = %q", ce.Message)
	}
}

func TestWSHandshakeTimeout(t *testing.T) {
	ts := newTestServer(t)
	ts.silent = true

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := (&WSDialer{URL: ts.url()}).Dial(ctx, "good")
	if err == nil {
		t.Fatal("Dial() succeeded against a silent server")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Dial() took %v, want bounded by ctx", time.Since(start))
	}
}

func TestWSEmitAndReceive(t *testing.T) {
	ts := newTestServer(t)
	ch, err := dialTest(t, &WSDialer{URL: ts.url()}, "good")
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	got := make(chan json.RawMessage, 1)
	off := ch.On(EventNewMessage, func(data json.RawMessage) { got <- data })

	if err := ch.Emit(context.Background(), EventJoinConversation, ConversationRef{ConversationID: "c1"}); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-ts.received:
		var ref ConversationRef
		_ = json.Unmarshal(f.Data, &ref)
		if f.Event != EventJoinConversation || ref.ConversationID != "c1" {
			t.Errorf("server received %s %s", f.Event, f.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}

	_ = ts.conn(0).WriteJSON(Frame{Event: EventNewMessage, Data: json.RawMessage(`{"conversationId":"c1"}`)})
	select {
	case data := <-got:
		if !strings.Contains(string(data), "c1") {
			t.Errorf("handler data = %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	off()
	_ = ts.conn(0).WriteJSON(Frame{Event: EventNewMessage, Data: json.RawMessage(`{}`)})
	select {
	case data := <-got:
		t.Errorf("handler called after off: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSServerCloseDispatchesDisconnect(t *testing.T) {
	ts := newTestServer(t)
	ch, err := dialTest(t, &WSDialer{URL: ts.url()}, "good")
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	disconnected := make(chan struct{}, 1)
	ch.On(EventDisconnect, func(json.RawMessage) { disconnected <- struct{}{} })

	_ = ts.conn(0).Close()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not dispatched")
	}
	if ch.Connected() {
		t.Error("Connected() = true after server close")
	}
	if err := ch.Emit(context.Background(), EventLeaveConversation, ConversationRef{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Emit() error = %v, want ErrNotConnected", err)
	}
}

func TestWSReconnect(t *testing.T) {
	ts := newTestServer(t)
	d := &WSDialer{URL: ts.url(), ReconnectAttempts: 2, ReconnectBackoff: 10 * time.Millisecond}
	ch, err := dialTest(t, d, "good")
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	reconnected := make(chan struct{}, 1)
	ch.On(EventReconnect, func(json.RawMessage) { reconnected <- struct{}{} })

	_ = ts.conn(0).Close()
	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect not dispatched")
	}
	if !ch.Connected() {
		t.Error("Connected() = false after reconnect")
	}
	if ch.ID() != "sock-2" {
		t.Errorf("ID() = %q, want sock-2", ch.ID())
	}
	if ts.connCount() != 2 {
		t.Errorf("server saw %d connections, want 2", ts.connCount())
	}
}

func TestWSCloseIsQuiet(t *testing.T) {
	ts := newTestServer(t)
	ch, err := dialTest(t, &WSDialer{URL: ts.url(), ReconnectAttempts: 1}, "good")
	if err != nil {
		t.Fatal(err)
	}
	disconnected := make(chan struct{}, 1)
	ch.On(EventDisconnect, func(json.RawMessage) { disconnected <- struct{}{} })

	if err := ch.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	_ = ch.Close()
	select {
	case <-disconnected:
		t.Error("disconnect dispatched on local Close")
	case <-time.After(100 * time.Millisecond):
	}
	if ch.Connected() {
		t.Error("Connected() = true after Close")
	}
}
