package cache

import (
	"context"
	"time"
)

// Store is an expiry-aware key/value cache. Implementations must treat an
// expired entry as absent. Values are JSON-marshaled by the implementation;
// Get unmarshals into v and reports whether a live entry was found.
type Store interface {
	Get(ctx context.Context, key string, v interface{}) (bool, error)
	Put(ctx context.Context, key string, v interface{}, ttl time.Duration) error
}
