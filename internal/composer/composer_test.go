package composer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/rest"
)

type fakeSender struct {
	mu      sync.Mutex
	reqs    []chat.SendRequest
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeSender) SendMessage(ctx context.Context, req chat.SendRequest) (chat.SendResult, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	block, entered, err := f.block, f.entered, f.err
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return chat.SendResult{}, err
	}
	return chat.SendResult{ID: "m1", ConversationID: req.ConversationID}, nil
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeTyping struct {
	mu         sync.Mutex
	keystrokes []string
	idles      int
}

func (f *fakeTyping) Keystroke(cid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keystrokes = append(f.keystrokes, cid)
}

func (f *fakeTyping) Idle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idles++
}

type fakeJournal struct {
	mu      sync.Mutex
	queued  []chat.SendAttempt
	results map[string]string
}

func (f *fakeJournal) RecordQueued(_ context.Context, a chat.SendAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, a)
	return nil
}

func (f *fakeJournal) RecordResult(_ context.Context, clientID, state, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		f.results = make(map[string]string)
	}
	f.results[clientID] = state
	return nil
}

func TestSubmitGuards(t *testing.T) {
	tests := []struct {
		name   string
		target *Target
		text   string
		want   error
	}{
		{name: "empty", target: &Target{ConversationID: "c1"}, text: "", want: ErrEmpty},
		{name: "whitespace", target: &Target{ConversationID: "c1"}, text: "  \n\t", want: ErrEmpty},
		{name: "no conversation", text: "hi", want: ErrNoConversation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			c := New(sender, Options{})
			if tt.target != nil {
				c.SetTarget(*tt.target)
			}
			c.SetText(tt.text)
			if _, err := c.Submit(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("Submit() error = %v, want %v", err, tt.want)
			}
			if sender.calls() != 0 {
				t.Errorf("network calls = %d, want 0", sender.calls())
			}
			if c.Text() != tt.text {
				t.Errorf("Text() = %q, want %q", c.Text(), tt.text)
			}
		})
	}
}

func TestSubmitClearsAndSends(t *testing.T) {
	sender := &fakeSender{}
	journal := &fakeJournal{}
	typing := &fakeTyping{}
	c := New(sender, Options{Typing: typing, Journal: journal})
	c.SetTarget(Target{ConversationID: "c1", ReceiverID: "u2"})
	c.SetText("  hello ")

	res, err := c.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != "m1" {
		t.Errorf("result = %+v", res)
	}
	if c.Text() != "" {
		t.Errorf("Text() = %q, want empty", c.Text())
	}
	want := chat.SendRequest{ConversationID: "c1", ReceiverID: "u2", Content: "hello"}
	if sender.reqs[0] != want {
		t.Errorf("request = %+v, want %+v", sender.reqs[0], want)
	}
	if typing.idles != 1 || len(typing.keystrokes) != 1 {
		t.Errorf("typing = %+v", typing)
	}
	if len(journal.queued) != 1 || journal.results[journal.queued[0].ClientID] != chat.SendSent {
		t.Errorf("journal = %+v", journal)
	}
}

func TestSubmitFailureRestoresText(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "server message", err: &rest.APIError{StatusCode: 403, Message: "blocked"}, want: "blocked"},
		{name: "no message", err: errors.New("dial tcp: refused"), want: FallbackMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			journal := &fakeJournal{}
			c := New(&fakeSender{err: tt.err}, Options{Journal: journal})
			c.SetTarget(Target{ConversationID: "c1"})
			c.SetText("hello")

			_, err := c.Submit(context.Background())
			var sendErr *SendError
			if !errors.As(err, &sendErr) || sendErr.Text != tt.want {
				t.Fatalf("Submit() error = %v, want %q", err, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("SendError does not wrap the cause")
			}
			if c.Text() != "hello" {
				t.Errorf("Text() = %q, want restored", c.Text())
			}
			if journal.results[journal.queued[0].ClientID] != chat.SendFailed {
				t.Errorf("journal = %+v", journal.results)
			}
		})
	}
}

func TestSubmitInFlight(t *testing.T) {
	sender := &fakeSender{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := New(sender, Options{})
	c.SetTarget(Target{ConversationID: "c1"})
	c.SetText("first")

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background())
		done <- err
	}()
	<-sender.entered

	c.SetText("second")
	if _, err := c.Submit(context.Background()); !errors.Is(err, ErrInFlight) {
		t.Errorf("second Submit() error = %v, want ErrInFlight", err)
	}
	if !c.Sending() {
		t.Error("Sending() = false during send")
	}
	close(sender.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if sender.calls() != 1 {
		t.Errorf("network calls = %d, want 1", sender.calls())
	}
	if c.Text() != "second" {
		t.Errorf("Text() = %q", c.Text())
	}
}
