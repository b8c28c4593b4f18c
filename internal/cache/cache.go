package cache

import (
	"context"
	"time"
)

// Cache is the TTL'd JSON cache used for externally visible metrics
// snapshots.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
