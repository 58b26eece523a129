package devserver

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireme/chatsync/internal/chat"
)

func TestMemoryRepository(t *testing.T) {
	testRepository(t, NewMemoryRepository())
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("CHATSYNC_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("CHATSYNC_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	repo, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	testRepository(t, repo)
}

func testRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()
	// Unique ids keep runs against a shared database apart.
	run := uuid.NewString()[:8]
	a, b, c := "a-"+run, "b-"+run, "c-"+run

	t.Run("users", func(t *testing.T) {
		if _, err := repo.User(ctx, a); !errors.Is(err, ErrNotFound) {
			t.Fatalf("User before upsert err = %v, want ErrNotFound", err)
		}
		if err := repo.UpsertUser(ctx, User{ID: a, DisplayName: "First"}); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
		if err := repo.UpsertUser(ctx, User{ID: a, DisplayName: "Second"}); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
		u, err := repo.User(ctx, a)
		if err != nil || u.DisplayName != "Second" {
			t.Errorf("User = %+v, %v", u, err)
		}
	})

	var ab, ac Conversation
	t.Run("find or create", func(t *testing.T) {
		var err error
		ab, err = repo.FindOrCreateConversation(ctx, a, b)
		if err != nil {
			t.Fatalf("FindOrCreateConversation: %v", err)
		}
		again, err := repo.FindOrCreateConversation(ctx, b, a)
		if err != nil {
			t.Fatalf("FindOrCreateConversation: %v", err)
		}
		if again.ID != ab.ID {
			t.Errorf("reversed pair id = %q, want %q", again.ID, ab.ID)
		}
		if !ab.Has(a) || !ab.Has(b) || ab.Has(c) || ab.Other(a) != b {
			t.Errorf("members = %v", ab.Members)
		}
		ac, err = repo.FindOrCreateConversation(ctx, a, c)
		if err != nil {
			t.Fatalf("FindOrCreateConversation: %v", err)
		}
		if _, err := repo.Conversation(ctx, "missing-"+run); !errors.Is(err, ErrNotFound) {
			t.Errorf("Conversation(missing) err = %v", err)
		}
	})

	t.Run("messages", func(t *testing.T) {
		base := time.Now().UTC().Truncate(time.Millisecond)
		msgs := []chat.Message{
			{ID: "m2-" + run, ConversationID: ab.ID, SenderID: a, Content: "second", CreatedAt: base.Add(time.Second), Timestamp: 20},
			{ID: "m1-" + run, ConversationID: ab.ID, SenderID: b, Content: "first", CreatedAt: base, Timestamp: 10},
			{ID: "m3-" + run, ConversationID: ac.ID, SenderID: a, Content: "to c", CreatedAt: base.Add(2 * time.Second), Timestamp: 30},
		}
		for _, m := range msgs {
			if err := repo.AppendMessage(ctx, m); err != nil {
				t.Fatalf("AppendMessage(%s): %v", m.ID, err)
			}
		}
		err := repo.AppendMessage(ctx, chat.Message{ID: "x-" + run, ConversationID: "missing-" + run, CreatedAt: base})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("AppendMessage to missing conversation err = %v", err)
		}

		got, err := repo.Messages(ctx, ab.ID)
		if err != nil {
			t.Fatalf("Messages: %v", err)
		}
		if len(got) != 2 || got[0].Content != "first" || got[1].Content != "second" {
			t.Fatalf("messages = %+v", got)
		}

		convs, err := repo.Conversations(ctx, a)
		if err != nil {
			t.Fatalf("Conversations: %v", err)
		}
		if len(convs) != 2 || convs[0].ID != ac.ID || convs[1].LastMessage != "first" {
			t.Errorf("conversations = %+v", convs)
		}
		if convs, _ := repo.Conversations(ctx, c); len(convs) != 1 {
			t.Errorf("conversations of c = %+v", convs)
		}
	})
}
