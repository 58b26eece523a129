package devserver

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

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/clock"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/pushdb"
	"github.com/hireme/chatsync/internal/realtime"
	"github.com/hireme/chatsync/internal/rest"
)

const testSecret = "devserver-test-secret"

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	push   *pushdb.Memory
	repo   *MemoryRepository
	issuer *identity.Issuer
}

func newTestEnv(t *testing.T, now func() time.Time) *testEnv {
	t.Helper()
	env := &testEnv{
		push:   pushdb.NewMemory(),
		repo:   NewMemoryRepository(),
		issuer: identity.NewIssuer(testSecret, time.Hour, nil),
	}
	env.srv = New(Options{Repo: env.repo, Push: env.push, Verifier: env.issuer, Now: now})
	env.http = httptest.NewServer(env.srv.Handler())
	t.Cleanup(func() {
		env.http.Close()
		env.srv.Close()
		_ = env.push.Close()
	})
	return env
}

func (e *testEnv) token(t *testing.T, uid, name string) string {
	t.Helper()
	tok, _, err := e.issuer.Mint(identity.Principal{UserID: uid, DisplayName: name})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return tok
}

func (e *testEnv) client(t *testing.T, uid, name string) *rest.Client {
	t.Helper()
	src, err := identity.NewStaticSource(e.token(t, uid, name), nil)
	if err != nil {
		t.Fatalf("NewStaticSource: %v", err)
	}
	return rest.New(e.http.URL, 2*time.Second, src, nil)
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (e *testEnv) online(t *testing.T, uid string) bool {
	t.Helper()
	snap, err := e.push.Get(context.Background(), pushdb.PresencePath)
	if err != nil {
		return false
	}
	var p chat.Presence
	ok, err := snap.Decode(uid, &p)
	return ok && err == nil && p.Online
}

func TestRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/chats")
	if err != nil {
		t.Fatalf("GET /chats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body["message"] != "Missing authentication token" {
		t.Errorf("message = %q", body["message"])
	}

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/chats", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /chats: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp2.StatusCode)
	}
}

func TestSendFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.client(t, "alice", "Alice")
	bob := env.client(t, "bob", "Bob")

	if err := bob.SyncUser(ctx, identity.Principal{UserID: "bob", DisplayName: "Bob"}); err != nil {
		t.Fatalf("SyncUser: %v", err)
	}

	res, err := alice.SendMessage(ctx, chat.SendRequest{ReceiverID: "bob", Content: "  hello bob  "})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.ID == "" || res.ConversationID == "" {
		t.Fatalf("result = %+v", res)
	}

	again, err := alice.SendMessage(ctx, chat.SendRequest{ConversationID: res.ConversationID, Content: "second"})
	if err != nil {
		t.Fatalf("SendMessage by id: %v", err)
	}
	if again.ConversationID != res.ConversationID {
		t.Errorf("conversation = %q, want %q", again.ConversationID, res.ConversationID)
	}

	convs, err := alice.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("conversations = %+v", convs)
	}
	if convs[0].OtherUserID != "bob" || convs[0].OtherUserName != "Bob" || convs[0].LastMessage != "second" {
		t.Errorf("conversation = %+v", convs[0])
	}

	bobConvs, err := bob.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(bobConvs) != 1 || bobConvs[0].UnreadCount != 2 {
		t.Fatalf("bob conversations = %+v", bobConvs)
	}

	msgs, err := bob.ListMessages(ctx, res.ConversationID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "hello bob" || msgs[1].Content != "second" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].SenderID != "alice" {
		t.Errorf("sender = %q", msgs[0].SenderID)
	}

	snap, err := env.push.Get(ctx, pushdb.MessagesPath(res.ConversationID))
	if err != nil {
		t.Fatalf("Get messages: %v", err)
	}
	var entry pushEntry
	if ok, err := snap.Decode(res.ID, &entry); !ok || err != nil {
		t.Fatalf("push entry missing: ok=%v err=%v", ok, err)
	}
	if entry.SenderUID != "alice" || entry.Content != "hello bob" {
		t.Errorf("push entry = %+v", entry)
	}

	notes, _ := env.push.Get(ctx, pushdb.NotificationsPath("bob"))
	if len(notes) != 2 {
		t.Errorf("bob notifications = %d, want 2", len(notes))
	}
	for _, k := range notes.Keys() {
		var n chat.Notification
		_, _ = notes.Decode(k, &n)
		if n.Type != chat.NotificationNewMessage || n.Title != "Alice" || n.ConversationID != res.ConversationID {
			t.Errorf("notification = %+v", n)
		}
	}

	if err := bob.MarkRead(ctx, res.ConversationID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	unread, _ := env.push.Get(ctx, pushdb.UnreadPath("bob"))
	if _, ok := unread[res.ConversationID]; ok {
		t.Error("unread count not cleared")
	}
}

func TestTimestampsIncreasePerConversation(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	env := newTestEnv(t, func() time.Time { return fixed })
	ctx := testContext(t)
	alice := env.client(t, "alice", "Alice")

	var convID string
	for i := 0; i < 3; i++ {
		res, err := alice.SendMessage(ctx, chat.SendRequest{ReceiverID: "bob", Content: "m"})
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		convID = res.ConversationID
	}
	msgs, err := alice.ListMessages(ctx, convID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	for i, m := range msgs {
		if want := fixed.UnixMilli() + int64(i); m.Timestamp != want {
			t.Errorf("message %d timestamp = %d, want %d", i, m.Timestamp, want)
		}
	}
}

func TestSendValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.client(t, "alice", "Alice")
	carol := env.client(t, "carol", "Carol")

	res, err := alice.SendMessage(ctx, chat.SendRequest{ReceiverID: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	tests := []struct {
		name   string
		client *rest.Client
		req    chat.SendRequest
		status int
	}{
		{"blank content", alice, chat.SendRequest{ReceiverID: "bob", Content: "   "}, http.StatusBadRequest},
		{"no target", alice, chat.SendRequest{Content: "hi"}, http.StatusBadRequest},
		{"self", alice, chat.SendRequest{ReceiverID: "alice", Content: "hi"}, http.StatusBadRequest},
		{"unknown conversation", alice, chat.SendRequest{ConversationID: "nope", Content: "hi"}, http.StatusNotFound},
		{"outsider", carol, chat.SendRequest{ConversationID: res.ConversationID, Content: "hi"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.SendMessage(ctx, tt.req)
			if !rest.IsStatus(err, tt.status) {
				t.Fatalf("err = %v, want status %d", err, tt.status)
			}
			if rest.UserMessage(err, "") == "" {
				t.Error("missing server message")
			}
		})
	}

	if _, err := carol.ListMessages(ctx, res.ConversationID); !rest.IsStatus(err, http.StatusForbidden) {
		t.Errorf("outsider ListMessages err = %v, want 403", err)
	}
}

func TestSyncUserRejectsOtherUID(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.client(t, "alice", "Alice")

	err := alice.SyncUser(ctx, identity.Principal{UserID: "mallory", DisplayName: "M"})
	if !rest.IsStatus(err, http.StatusForbidden) {
		t.Fatalf("err = %v, want 403", err)
	}
	if _, err := env.repo.User(ctx, "mallory"); !errors.Is(err, ErrNotFound) {
		t.Errorf("User(mallory) err = %v, want ErrNotFound", err)
	}
}

type frameLog struct {
	mu     sync.Mutex
	frames map[string][]json.RawMessage
}

func (l *frameLog) add(event string) realtime.Handler {
	return func(data json.RawMessage) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.frames == nil {
			l.frames = make(map[string][]json.RawMessage)
		}
		l.frames[event] = append(l.frames[event], data)
	}
}

func (l *frameLog) get(event string) []json.RawMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]json.RawMessage(nil), l.frames[event]...)
}

func TestSocketDeliversMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.client(t, "alice", "Alice")

	dialer := &realtime.WSDialer{URL: env.wsURL()}
	ch, err := dialer.Dial(ctx, env.token(t, "bob", "Bob"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()
	if ch.ID() == "" {
		t.Error("empty socket id")
	}

	var log frameLog
	ch.On(realtime.EventNewMessage, log.add(realtime.EventNewMessage))
	ch.On(realtime.EventNotification, log.add(realtime.EventNotification))
	waitFor(t, "bob online", func() bool { return env.online(t, "bob") })

	res, err := alice.SendMessage(ctx, chat.SendRequest{ReceiverID: "bob", Content: "ping"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitFor(t, "new_message frame", func() bool { return len(log.get(realtime.EventNewMessage)) == 1 })
	waitFor(t, "notification frame", func() bool { return len(log.get(realtime.EventNotification)) == 1 })

	var msg chat.Message
	if err := json.Unmarshal(log.get(realtime.EventNewMessage)[0], &msg); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if msg.ID != res.ID || msg.Content != "ping" || msg.SenderID != "alice" {
		t.Errorf("frame message = %+v", msg)
	}

	_ = ch.Close()
	waitFor(t, "bob offline", func() bool { return !env.online(t, "bob") })
}

func TestSocketRejectsBadToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)

	_, err := (&realtime.WSDialer{URL: env.wsURL()}).Dial(ctx, "garbage")
	var ce *realtime.ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("Dial err = %v, want ConnectError", err)
	}
	if ce.Message != "invalid token" {
		t.Errorf("Message = %q", ce.Message)
	}

	past := identity.NewIssuer(testSecret, time.Minute, clock.NewFake(time.Now().Add(-time.Hour)))
	tok, _, _ := past.Mint(identity.Principal{UserID: "bob"})
	_, err = (&realtime.WSDialer{URL: env.wsURL()}).Dial(ctx, tok)
	if !errors.As(err, &ce) || ce.Message != "token expired" {
		t.Errorf("Dial expired err = %v, want token expired", err)
	}
}

func TestSocketIgnoresClaimedUserID(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, env.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	hs := map[string]any{
		"auth":   map[string]string{"token": env.token(t, "bob", "Bob")},
		"userId": "alice",
	}
	if err := conn.WriteJSON(hs); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	var ack realtime.Frame
	if err := conn.ReadJSON(&ack); err != nil || ack.Event != realtime.EventConnect {
		t.Fatalf("ack = %+v err = %v", ack, err)
	}

	waitFor(t, "bob online", func() bool { return env.online(t, "bob") })
	if env.online(t, "alice") {
		t.Error("socket registered under the claimed user id")
	}
}

func TestPresenceEndpointBroadcasts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)

	ch, err := (&realtime.WSDialer{URL: env.wsURL()}).Dial(ctx, env.token(t, "bob", "Bob"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()
	var log frameLog
	ch.On(realtime.EventUserOffline, log.add(realtime.EventUserOffline))
	waitFor(t, "bob online", func() bool { return env.online(t, "bob") })

	alice := env.client(t, "alice", "Alice")
	if err := alice.SetPresence(ctx, true); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	if !env.online(t, "alice") {
		t.Error("alice not online")
	}
	if err := alice.SetPresence(ctx, false); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	waitFor(t, "user_offline frame", func() bool { return len(log.get(realtime.EventUserOffline)) == 1 })

	var body map[string]string
	_ = json.Unmarshal(log.get(realtime.EventUserOffline)[0], &body)
	if body["userId"] != "alice" {
		t.Errorf("offline frame = %v", body)
	}
}

func TestTypingReachesOtherParty(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := testContext(t)
	alice := env.client(t, "alice", "Alice")
	res, err := alice.SendMessage(ctx, chat.SendRequest{ReceiverID: "bob", Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := alice.SetTyping(ctx, res.ConversationID, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	snap, _ := env.push.Get(ctx, pushdb.TypingPath(res.ConversationID))
	var typing chat.Typing
	if ok, _ := snap.Decode("alice", &typing); !ok || !typing.IsTyping {
		t.Errorf("typing entry = %+v ok=%v", typing, ok)
	}
}
