package cache

import (
	"context"
	"time"
)

// Cache is the shared set-if-absent contract the idempotency window rides
// on. SetNX returns true when this call created the key, false when the key
// already existed. Get returns ("", false) for missing or expired keys.
type Cache interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
}
