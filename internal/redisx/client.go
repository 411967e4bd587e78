package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// FirstSeen marks an event as processed for service and reports whether this
// call was the first to do so.
func FirstSeen(ctx context.Context, rdb redis.Cmdable, service, eventID string) (bool, error) {
	return rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}

// Forget drops a dedup marker so a failed event can be retried.
func Forget(ctx context.Context, rdb redis.Cmdable, service, eventID string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}
