package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/clock"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 || result.From != 1 {
		t.Errorf("result = %+v, want version 1 from 1", result)
	}
}

func TestMigrateRejectsDirtySchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); !errors.Is(err, ErrDirtySchema) {
		t.Errorf("Migrate on dirty schema err = %v, want ErrDirtySchema", err)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert conversation", "INSERT INTO conversations (conversation_id, other_user_uid, other_user_name, last_message, unread_count) VALUES (?, ?, ?, ?, ?)", []any{"c1", "u2", "Ada", "hi", 0}},
		{"insert message", "INSERT INTO messages (conversation_id, msg_key, sender_uid, content, timestamp) VALUES (?, ?, ?, ?, ?)", []any{"c1", "m1", "u2", "hello", 1000}},
		{"insert journal", "INSERT INTO send_journal (client_id, conversation_id, content, state) VALUES (?, ?, ?, ?)", []any{"cid", "c1", "text", "queued"}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}
	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestConversationUpsertAndList(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	conv := chat.Conversation{ID: "c1", OtherUserID: "u2", OtherUserName: "Alice", LastMessage: "hello"}
	if err := db.UpsertConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}
	conv.OtherUserName = "Alice Updated"
	if err := db.UpsertConversation(ctx, conv); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].OtherUserName != "Alice Updated" {
		t.Errorf("name = %q, want Alice Updated", convs[0].OtherUserName)
	}

	got, err := db.GetConversation(ctx, "c1")
	if err != nil || got == nil || got.OtherUserID != "u2" {
		t.Errorf("GetConversation() = %v, %v", got, err)
	}
	missing, err := db.GetConversation(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetConversation(missing) = %v, %v", missing, err)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	msg := chat.Message{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "hello", Timestamp: 1000,
		CreatedAt: time.UnixMilli(1000)}
	if err := db.UpsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	msg.Content = "hello updated"
	if err := db.UpsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.Messages(ctx, "c1", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Content != "hello updated" || !msgs[0].CreatedAt.Equal(time.UnixMilli(1000)) {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestMessagesLatestInAscendingOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	for i, key := range []string{"a", "b", "c", "d"} {
		if err := db.UpsertMessage(ctx, chat.Message{ID: key, ConversationID: "c1", Timestamp: int64(i + 1)}); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := db.Messages(ctx, "c1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "c" || msgs[1].ID != "d" {
		t.Errorf("Messages() = %+v, want [c d]", msgs)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, m := range []chat.Message{
		{ID: "m1", ConversationID: "c1", Content: "hello world", Timestamp: 1000},
		{ID: "m2", ConversationID: "c1", Content: "goodbye world", Timestamp: 2000},
		{ID: "m3", ConversationID: "c2", Content: "100% hello", Timestamp: 3000},
	} {
		if err := db.UpsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		query, conv string
		want        []string
	}{
		{query: "hello", want: []string{"m3", "m1"}},
		{query: "hello", conv: "c1", want: []string{"m1"}},
		{query: "100%", want: []string{"m3"}},
		{query: "_", want: nil},
	}
	for _, tt := range tests {
		results, err := db.SearchMessages(ctx, tt.query, tt.conv, 10)
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, r := range results {
			got = append(got, r.ID)
		}
		if len(got) != len(tt.want) {
			t.Errorf("search(%q, %q) = %v, want %v", tt.query, tt.conv, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("search(%q, %q) = %v, want %v", tt.query, tt.conv, got, tt.want)
				break
			}
		}
	}
}

func TestSendJournal(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for _, id := range []string{"client1", "client2"} {
		if err := db.RecordQueued(ctx, chat.SendAttempt{ClientID: id, ConversationID: "c1", Content: "test msg"}); err != nil {
			t.Fatal(err)
		}
	}
	queued, err := db.Journal(ctx, chat.SendQueued, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 2 {
		t.Fatalf("got %d queued, want 2", len(queued))
	}

	if err := db.RecordResult(ctx, "client1", chat.SendSent, "server1", ""); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordResult(ctx, "client2", chat.SendFailed, "", "blocked"); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordResult(ctx, "missing", chat.SendSent, "", ""); err == nil {
		t.Error("RecordResult(missing) error = nil")
	}
	if err := db.RecordResult(ctx, "client1", chat.SendQueued, "", ""); err == nil {
		t.Error("RecordResult(queued) error = nil")
	}

	all, err := db.Journal(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if all[0].State != chat.SendSent || all[0].MessageID != "server1" {
		t.Errorf("client1 = %+v", all[0])
	}
	if all[1].State != chat.SendFailed || all[1].Error != "blocked" {
		t.Errorf("client2 = %+v", all[1])
	}
}

func TestJournalStampsFromClock(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	clk := clock.NewFake(start)
	db, err := Open(filepath.Join(t.TempDir(), "clock.db"), WithClock(clk))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := db.RecordQueued(ctx, chat.SendAttempt{ClientID: "c", ConversationID: "c1", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(3 * time.Second)
	if err := db.RecordResult(ctx, "c", chat.SendSent, "m1", ""); err != nil {
		t.Fatal(err)
	}
	got, err := db.Journal(ctx, chat.SendSent, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("Journal = %+v, %v", got, err)
	}
	if !got[0].CreatedAt.Equal(start) || !got[0].UpdatedAt.Equal(start.Add(3*time.Second)) {
		t.Errorf("stamps = %v / %v", got[0].CreatedAt, got[0].UpdatedAt)
	}
}

func TestSyncState(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, ok, err := db.SyncState(ctx, "cursor"); err != nil || ok {
		t.Fatalf("SyncState(unset) = %v, %v", ok, err)
	}
	if err := db.SetSyncState(ctx, "cursor", "1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSyncState(ctx, "cursor", "2"); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := db.SyncState(ctx, "cursor"); err != nil || !ok || v != "2" {
		t.Errorf("SyncState() = %q, %v, %v", v, ok, err)
	}
}
