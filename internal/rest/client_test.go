package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/identity"
)

type fakeSource struct {
	principal *identity.Principal
	token     string
	err       error
}

func (f *fakeSource) Current() (identity.Principal, bool) {
	if f.principal == nil {
		return identity.Principal{}, false
	}
	return *f.principal, true
}

func (f *fakeSource) Token(context.Context, bool) (string, error) {
	return f.token, f.err
}

func signedIn() *fakeSource {
	return &fakeSource{principal: &identity.Principal{UserID: "u1"}, token: "tok"}
}

func TestAuthorizationHeader(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	ctx := context.Background()
	if _, err := New(srv.URL, time.Second, signedIn(), nil).ListConversations(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := New(srv.URL, time.Second, &fakeSource{}, nil).ListConversations(ctx); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 || got[0] != "Bearer tok" || got[1] != "" {
		t.Errorf("Authorization headers = %q, want [Bearer tok, \"\"]", got)
	}
}

func TestTokenErrorFailsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	src := signedIn()
	src.err = identity.ErrTokenExpired
	err := New(srv.URL, time.Second, src, nil).MarkRead(context.Background(), "c1")
	if !errors.Is(err, identity.ErrTokenExpired) {
		t.Errorf("MarkRead() error = %v, want ErrTokenExpired", err)
	}
	if called {
		t.Error("request sent despite token error")
	}
}

func TestEndpoints(t *testing.T) {
	type call struct {
		method, path string
		body         map[string]any
	}
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, call{r.Method, r.URL.EscapedPath(), body})
		switch r.URL.Path {
		case "/chats/send":
			_, _ = w.Write([]byte(`{"id":"m1","conversationId":"c 1"}`))
		case "/conversations/c 1/messages":
			_, _ = w.Write([]byte(`[{"id":"m1","content":"hi","timestamp":5}]`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second, signedIn(), nil)
	ctx := context.Background()

	res, err := c.SendMessage(ctx, chat.SendRequest{ConversationID: "c 1", ReceiverID: "u2", Content: "hi"})
	if err != nil || res.ID != "m1" {
		t.Fatalf("SendMessage() = %+v, %v", res, err)
	}
	msgs, err := c.ListMessages(ctx, "c 1")
	if err != nil || len(msgs) != 1 || msgs[0].Timestamp != 5 {
		t.Fatalf("ListMessages() = %+v, %v", msgs, err)
	}
	if err := c.MarkRead(ctx, "c 1"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetTyping(ctx, "c 1", true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPresence(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := c.SyncUser(ctx, identity.Principal{UserID: "u1", DisplayName: "Ada"}); err != nil {
		t.Fatal(err)
	}

	want := []call{
		{http.MethodPost, "/chats/send", map[string]any{"conversationId": "c 1", "receiverUid": "u2", "content": "hi"}},
		{http.MethodGet, "/conversations/c%201/messages", nil},
		{http.MethodPost, "/chats/c%201/read", nil},
		{http.MethodPost, "/chats/c%201/typing", map[string]any{"isTyping": true}},
		{http.MethodPost, "/users/me/presence", map[string]any{"online": false}},
		{http.MethodPost, "/users/me", map[string]any{"uid": "u1", "displayName": "Ada"}},
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d", len(calls), len(want))
	}
	for i, w := range want {
		g := calls[i]
		if g.method != w.method || g.path != w.path {
			t.Errorf("call %d = %s %s, want %s %s", i, g.method, g.path, w.method, w.path)
		}
		for k, v := range w.body {
			if g.body[k] != v {
				t.Errorf("call %d body[%s] = %v, want %v", i, k, g.body[k], v)
			}
		}
	}
}

func TestAPIErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantUser string
	}{
		{"message field", http.StatusBadRequest, `{"message":"Receiver not found"}`, "Receiver not found"},
		{"error field", http.StatusForbidden, `{"error":"Not a participant"}`, "Not a participant"},
		{"no body", http.StatusInternalServerError, ``, "Failed to send message"},
		{"html body", http.StatusBadGateway, `<html>bad gateway</html>`, "Failed to send message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, time.Second, signedIn(), nil).SendMessage(context.Background(), chat.SendRequest{Content: "x"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %T %v, want *APIError", err, err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if !IsStatus(err, tt.status) {
				t.Error("IsStatus() = false")
			}
			if got := UserMessage(err, "Failed to send message"); got != tt.wantUser {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantUser)
			}
		})
	}
}

func TestUserMessageNonAPIError(t *testing.T) {
	if got := UserMessage(errors.New("dial tcp: refused"), "fallback"); got != "fallback" {
		t.Errorf("UserMessage() = %q, want fallback", got)
	}
}
