// Package storage adapts a per-tenant cache engine to a backing key-value
// store. A single rate-limited Worker goroutine serializes requests against
// a Backend, using a goroutine-per-request dispatch instead of the
// spinlock-guarded queues a pthread version needs.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Backend.Get when the key does not exist in
// the backing store.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a backing key-value store. Implementations must be safe for
// concurrent use, though in practice Worker only ever calls them from
// request-scoped goroutines it spawns itself.
type Backend interface {
	Get(ctx context.Context, key string) (val string, err error)
	Put(ctx context.Context, key, val string) error
}
