package sync

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/hireme/chatsync/internal/store"
)

// Reconciler manages ingestion checkpoints: the highest ordering
// timestamp stored per conversation.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint stores a checkpoint value.
func (r *Reconciler) UpdateCheckpoint(ctx context.Context, key string, ts int64) error {
	return r.db.SetSyncState(ctx, key, strconv.FormatInt(ts, 10))
}

// Checkpoint returns a checkpoint value, 0 when unset. A corrupt value is
// logged and treated as unset so the next projection rewrites it.
func (r *Reconciler) Checkpoint(ctx context.Context, key string) (int64, error) {
	v, _, err := r.db.SyncState(ctx, key)
	if err != nil {
		return 0, err
	}
	ts, err := parseCheckpoint(v)
	if err != nil {
		r.logger.Warn("discarding corrupt checkpoint", zap.String("key", key), zap.String("value", v))
		return 0, nil
	}
	return ts, nil
}
