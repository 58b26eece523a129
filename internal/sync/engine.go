// Package sync mirrors what the messaging core observes into the local
// cache.
package sync

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/chat"
	"github.com/hireme/chatsync/internal/listener"
	"github.com/hireme/chatsync/internal/store"
)

// Ingested is the bus payload of cache.ingested.
type Ingested struct {
	ConversationID string
	Messages       int
	Conversations  int
}

// Engine handles idempotent ingestion into the store. It subscribes to
// the "conversation" namespace, which covers both the per-conversation
// projections and the list updates.
type Engine struct {
	db         *store.DB
	bus        *bus.Bus
	reconciler *Reconciler
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:         db,
		bus:        b,
		reconciler: NewReconciler(db, logger),
		logger:     logger,
	}
}

// Start subscribes to the bus and ingests until Stop or ctx ends.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("conversation", 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the current event to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindConversationMessages:
		p, ok := evt.Payload.(listener.Projection)
		if !ok {
			return
		}
		if _, err := e.IngestMessages(ctx, p.ConversationID, p.Messages); err != nil {
			e.logger.Error("failed to ingest messages", zap.Error(err), zap.String("conversation", p.ConversationID))
		}
	case bus.KindConversationsUpdated:
		summaries, ok := evt.Payload.([]chat.Summary)
		if !ok {
			return
		}
		if err := e.IngestConversations(ctx, summaries); err != nil {
			e.logger.Error("failed to ingest conversations", zap.Error(err), zap.Int("count", len(summaries)))
		}
	}
}

// IngestMessages upserts every message of a projection by key, so entries
// whose ordering timestamp fell back to 0 are kept too. The checkpoint
// records the latest ordering timestamp seen. It returns how many rows were
// inserted or changed.
func (e *Engine) IngestMessages(ctx context.Context, conversationID string, msgs []chat.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	key := checkpointKey(conversationID)
	since, err := e.reconciler.Checkpoint(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	batch := make([]chat.Message, 0, len(msgs))
	latest := since
	for _, m := range msgs {
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		batch = append(batch, m)
		latest = max(latest, m.Timestamp)
	}
	written, err := e.db.UpsertMessages(ctx, batch)
	if err != nil {
		return 0, err
	}
	if latest != since {
		if err := e.reconciler.UpdateCheckpoint(ctx, key, latest); err != nil {
			return 0, fmt.Errorf("update checkpoint: %w", err)
		}
	}
	if written == 0 {
		return 0, nil
	}

	e.bus.Emit(bus.KindCacheIngested, Ingested{ConversationID: conversationID, Messages: written})
	return written, nil
}

// IngestConversations upserts list summaries with their live unread count.
func (e *Engine) IngestConversations(ctx context.Context, summaries []chat.Summary) error {
	for _, s := range summaries {
		conv := s.Conversation
		conv.UnreadCount = s.Unread
		if err := e.db.UpsertConversation(ctx, conv); err != nil {
			return fmt.Errorf("upsert conversation %s: %w", conv.ID, err)
		}
	}
	e.bus.Emit(bus.KindCacheIngested, Ingested{Conversations: len(summaries)})
	return nil
}

func checkpointKey(conversationID string) string {
	return "messages:" + conversationID
}

func parseCheckpoint(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
