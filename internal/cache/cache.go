// Package cache holds the short-lived key/value stores used to speed up
// inbox and unread-count reads. Nothing in a cache is authoritative.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// Get returns the stored value and true, or false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
