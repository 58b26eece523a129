package pushdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// fetchTimeout bounds the snapshot read after a change notification.
const fetchTimeout = 5 * time.Second

// Redis is a Store over Redis hashes. Each parent path is a hash at
// prefix+path; every write publishes on prefix+"changed:"+path and
// subscribers re-read the whole hash.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	closed atomic.Bool

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewRedis wraps an existing client. Close closes the client.
func NewRedis(client *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: prefix, logger: logger, subs: make(map[*Subscription]struct{})}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, opts *redis.Options, prefix string, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pushdb: connect redis %s: %w", opts.Addr, err)
	}
	return NewRedis(client, prefix, logger), nil
}

func (r *Redis) hashKey(path string) string { return r.prefix + path }

func (r *Redis) channel(path string) string { return r.prefix + "changed:" + path }

func (r *Redis) Subscribe(ctx context.Context, path string, fn Handler) (*Subscription, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	ps := r.client.Subscribe(ctx, r.channel(path))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("pushdb: subscribe %s: %w", path, err)
	}

	sub := newSubscription(path, fn)
	sub.stop = func() {
		_ = ps.Close()
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
	}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go func() {
		// Subscribed before the first read, so no change between the two is lost.
		r.refresh(sub)
		for range ps.Channel() {
			if !sub.Active() {
				return
			}
			r.refresh(sub)
		}
	}()
	return sub, nil
}

func (r *Redis) refresh(sub *Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	snap, err := r.Get(ctx, sub.Path())
	if err != nil {
		if !errors.Is(err, ErrClosed) && sub.Active() {
			r.logger.Warn("push snapshot read failed", zap.String("path", sub.Path()), zap.Error(err))
		}
		return
	}
	sub.offer(snap)
}

func (r *Redis) Get(ctx context.Context, path string) (Snapshot, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	fields, err := r.client.HGetAll(ctx, r.hashKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("pushdb: read %s: %w", path, err)
	}
	snap := make(Snapshot, len(fields))
	for k, v := range fields {
		snap[k] = json.RawMessage(v)
	}
	return snap, nil
}

func (r *Redis) Set(ctx context.Context, path, key string, value any) error {
	if r.closed.Load() {
		return ErrClosed
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("pushdb: encode %s/%s: %w", path, key, err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.hashKey(path), key, raw)
		p.Publish(ctx, r.channel(path), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pushdb: write %s/%s: %w", path, key, err)
	}
	return nil
}

func (r *Redis) Push(ctx context.Context, path string, value any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("pushdb: new key: %w", err)
	}
	key := id.String()
	if err := r.Set(ctx, path, key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (r *Redis) Incr(ctx context.Context, path, key string, delta int64) (int64, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.HIncrBy(ctx, r.hashKey(path), key, delta)
		p.Publish(ctx, r.channel(path), key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pushdb: incr %s/%s: %w", path, key, err)
	}
	return incr.Val(), nil
}

func (r *Redis) Delete(ctx context.Context, path, key string) error {
	if r.closed.Load() {
		return ErrClosed
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, r.hashKey(path), key)
		p.Publish(ctx, r.channel(path), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pushdb: delete %s/%s: %w", path, key, err)
	}
	return nil
}

// Close cancels every subscription and closes the client.
func (r *Redis) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
	return r.client.Close()
}
