package model

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hireme/chatsync/internal/api"
	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
)

type fakeControl struct {
	mu        sync.Mutex
	opened    []string
	sends     []api.SendRequest
	keys      []string
	dismissed []string
	msgCalls  int
	listCalls []bool
	notes     []chat.Notification
	sendErr   error
}

func (f *fakeControl) Status(context.Context) (api.StatusInfo, error) {
	return api.StatusInfo{State: "CONNECTED", UserID: "u1"}, nil
}

func (f *fakeControl) ListConversations(_ context.Context, refresh bool) (api.ConversationList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, refresh)
	return api.ConversationList{
		Conversations: []chat.Summary{{Conversation: chat.Conversation{ID: "c1", OtherUserName: "Bob"}, Unread: 2}},
	}, nil
}

func (f *fakeControl) OpenConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, id)
	return nil
}

func (f *fakeControl) ListMessages(_ context.Context, id string, _ int) (api.MessageList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgCalls++
	return api.MessageList{
		Messages: []chat.Message{{ID: "m1", ConversationID: id, Content: "hi", Timestamp: 1}},
		Typing:   []string{"u2"},
	}, nil
}

func (f *fakeControl) SearchMessages(_ context.Context, req api.SearchRequest) ([]chat.Message, error) {
	return []chat.Message{{ID: "m1", Content: req.Query}}, nil
}

func (f *fakeControl) Keystroke(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, text)
	return nil
}

func (f *fakeControl) SendMessage(_ context.Context, req api.SendRequest) (chat.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	if f.sendErr != nil {
		return chat.SendResult{}, f.sendErr
	}
	return chat.SendResult{ID: "m2", ConversationID: req.ConversationID}, nil
}

func (f *fakeControl) ListNotifications(context.Context) ([]chat.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes, nil
}

func (f *fakeControl) DismissNotification(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, key)
	kept := f.notes[:0]
	for _, n := range f.notes {
		if n.Key != key {
			kept = append(kept, n)
		}
	}
	f.notes = kept
	return nil
}

func (f *fakeControl) ListPresence(context.Context) (map[string]chat.Presence, error) {
	return map[string]chat.Presence{"u2": {Online: true, LastSeen: 5}}, nil
}

func TestOpenLoadsMessages(t *testing.T) {
	fc := &fakeControl{}
	vm := NewViewModel(fc)
	ctx := context.Background()

	if err := vm.Open(ctx, "c1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if vm.ActiveID() != "c1" {
		t.Errorf("ActiveID = %q, want c1", vm.ActiveID())
	}
	msgs, typing := vm.Messages()
	if len(msgs) != 1 || msgs[0].ConversationID != "c1" {
		t.Errorf("messages = %+v", msgs)
	}
	if len(typing) != 1 || typing[0] != "u2" {
		t.Errorf("typing = %v", typing)
	}
	select {
	case <-vm.RefreshCh():
	default:
		t.Error("expected refresh signal")
	}
}

func TestSendRequiresOpenConversation(t *testing.T) {
	fc := &fakeControl{}
	vm := NewViewModel(fc)

	if _, err := vm.Send(context.Background(), "hello"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("Send err = %v, want ErrNoConversation", err)
	}
	if len(fc.sends) != 0 {
		t.Errorf("sends = %d, want 0", len(fc.sends))
	}
}

func TestSendTargetsActiveConversation(t *testing.T) {
	fc := &fakeControl{}
	vm := NewViewModel(fc)
	ctx := context.Background()
	_ = vm.Open(ctx, "c1")

	res, err := vm.Send(ctx, "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ID != "m2" {
		t.Errorf("result = %+v", res)
	}
	if len(fc.sends) != 1 || fc.sends[0].ConversationID != "c1" || fc.sends[0].Text != "hello" {
		t.Errorf("sends = %+v", fc.sends)
	}

	fc.sendErr = errors.New("boom")
	if _, err := vm.Send(ctx, "again"); err == nil {
		t.Error("expected send error")
	}
}

func TestKeystrokeIgnoredWithoutConversation(t *testing.T) {
	fc := &fakeControl{}
	vm := NewViewModel(fc)
	ctx := context.Background()

	_ = vm.Keystroke(ctx, "a")
	_ = vm.Open(ctx, "c1")
	_ = vm.Keystroke(ctx, "ab")

	if len(fc.keys) != 1 || fc.keys[0] != "ab" {
		t.Errorf("keystrokes = %v, want [ab]", fc.keys)
	}
}

func TestHandleEventReloads(t *testing.T) {
	fc := &fakeControl{notes: []chat.Notification{{Key: "n1", Title: "New message"}}}
	vm := NewViewModel(fc)
	ctx := context.Background()
	_ = vm.Open(ctx, "c1")
	before := fc.msgCalls

	if err := vm.HandleEvent(ctx, bus.KindConversationsUpdated); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	convs, _ := vm.Conversations()
	if len(convs) != 1 || convs[0].Unread != 2 {
		t.Errorf("conversations = %+v", convs)
	}
	if len(fc.listCalls) != 1 || fc.listCalls[0] {
		t.Errorf("list calls = %v, want [false]", fc.listCalls)
	}

	_ = vm.HandleEvent(ctx, bus.KindConversationTyping)
	if fc.msgCalls != before+1 {
		t.Errorf("message loads = %d, want %d", fc.msgCalls, before+1)
	}

	_ = vm.HandleEvent(ctx, bus.KindNotifications)
	if got := vm.Notifications(); len(got) != 1 {
		t.Errorf("notifications = %+v", got)
	}

	_ = vm.HandleEvent(ctx, bus.KindPresenceChanged)
	if !vm.Online("u2") || vm.Online("u3") {
		t.Error("presence not loaded")
	}

	_ = vm.HandleEvent(ctx, bus.KindStatusChanged)
	if vm.Status().State != "CONNECTED" {
		t.Errorf("status = %+v", vm.Status())
	}
}

func TestDismissReloadsFeed(t *testing.T) {
	fc := &fakeControl{notes: []chat.Notification{{Key: "n1"}, {Key: "n2"}}}
	vm := NewViewModel(fc)
	ctx := context.Background()

	if err := vm.Dismiss(ctx, "n1"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	got := vm.Notifications()
	if len(got) != 1 || got[0].Key != "n2" {
		t.Errorf("notifications = %+v", got)
	}
}
