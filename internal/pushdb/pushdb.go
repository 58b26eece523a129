// Package pushdb is the push database: a two-level key-value store
// (parent path, child key, JSON value) whose subscribers receive the full
// snapshot of a parent path on every change.
package pushdb

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("pushdb: store closed")

// Snapshot is every child of a parent path, keyed by child key.
type Snapshot map[string]json.RawMessage

// Keys returns the child keys in ascending order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decode unmarshals the child at key into v. Returns false if absent.
func (s Snapshot) Decode(key string, v any) (bool, error) {
	raw, ok := s[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (s Snapshot) clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Handler receives full snapshots. Handlers of one subscription are
// called sequentially, in write order.
type Handler func(Snapshot)

// Store is the push database contract.
type Store interface {
	// Subscribe delivers the current snapshot of path and then one per
	// change until the subscription is cancelled. ctx bounds setup only.
	Subscribe(ctx context.Context, path string, fn Handler) (*Subscription, error)
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path, key string, value any) error
	// Push stores value under a new time-ordered key and returns the key.
	Push(ctx context.Context, path string, value any) (string, error)
	// Incr adds delta to an integer child and returns the new value.
	Incr(ctx context.Context, path, key string, delta int64) (int64, error)
	Delete(ctx context.Context, path, key string) error
	Close() error
}
