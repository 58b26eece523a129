package bus

import (
	"testing"
	"time"

	"github.com/hireme/chatsync/internal/clock"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conversation.", 10)
	defer unsub()

	b.Emit(KindConversationMessages, "c1")

	select {
	case evt := <-ch:
		if evt.Kind != KindConversationMessages {
			t.Errorf("got kind %q, want %q", evt.Kind, KindConversationMessages)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("realtime.", 10)
	defer unsub()

	b.Emit(KindConversationsUpdated, nil)
	b.Emit(KindRealtimeConnected, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindRealtimeConnected {
			t.Errorf("got kind %q, want %q", evt.Kind, KindRealtimeConnected)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConversationPrefixDoesNotMatchList(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conversation.", 10)
	defer unsub()

	// "conversations.updated" does not start with "conversation." because of the dot.
	b.Emit(KindConversationsUpdated, nil)

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("presence.", 10)
	unsub()
	unsub()

	b.Emit(KindPresenceChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if n := b.Dropped(); n != 1 {
		t.Errorf("Dropped() = %d, want 1", n)
	}
}

func TestTimestampFromClock(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	b := New(WithClock(clock.NewFake(at)))
	ch, unsub := b.Subscribe("", 1)
	defer unsub()

	b.Emit(KindComposerSent, nil)
	if evt := <-ch; !evt.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", evt.Timestamp, at)
	}
}

func TestNilBusEmit(t *testing.T) {
	var b *Bus
	b.Emit("x.y", nil)
}
