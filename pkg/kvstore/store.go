// Package kvstore is the durable key-value layer the sync client persists
// its identity and session pointer in. It stands in for browser local
// storage, so any host persistence primitive can back it.
package kvstore

import "context"

// Store is a string key-value store.
//
// Delete removes all given keys as one operation: callers never observe a
// state where only some of them are gone.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}
