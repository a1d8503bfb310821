package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort byte cache. A miss and an error are both
// survivable; callers always have the database underneath.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
