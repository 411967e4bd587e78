package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

type PropertyStatus struct {
	PropertyID string `json:"property_id"`
	Status     string `json:"status"`
}

// StatusCache caches property statuses for the read path. Writers bump the
// property's version and drop the entry after commit. Readers take the
// version before reading the database and fill only while it is unchanged.
type StatusCache struct {
	RDB redis.Cmdable
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{RDB: rdb}
}

// Get reports ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, propertyID string) (PropertyStatus, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyPropertyStatus, propertyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PropertyStatus{}, false, nil
	}
	if err != nil {
		return PropertyStatus{}, false, err
	}
	var s PropertyStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return PropertyStatus{}, false, err
	}
	return s, true, nil
}

// Version returns the invalidation counter of a property; 0 when never invalidated.
func (c *StatusCache) Version(ctx context.Context, propertyID string) (int64, error) {
	v, err := c.RDB.Get(ctx, fmt.Sprintf(KeyPropertyStatusVersion, propertyID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// KEYS[1] version key, KEYS[2] status key; ARGV[1] expected version, ARGV[2] value, ARGV[3] ttl ms.
var fillIfVersion = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if (v or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Fill stores s unless the property was invalidated after version was read.
// It reports whether the entry was written.
func (c *StatusCache) Fill(ctx context.Context, s PropertyStatus, version int64) (bool, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return false, err
	}
	keys := []string{
		fmt.Sprintf(KeyPropertyStatusVersion, s.PropertyID),
		fmt.Sprintf(KeyPropertyStatus, s.PropertyID),
	}
	n, err := fillIfVersion.Run(ctx, c.RDB, keys,
		strconv.FormatInt(version, 10), b, TTLStatusCache.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate bumps each property's version and drops its entry in one MULTI.
func (c *StatusCache) Invalidate(ctx context.Context, propertyIDs ...string) error {
	if len(propertyIDs) == 0 {
		return nil
	}
	_, err := c.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range propertyIDs {
			p.Incr(ctx, fmt.Sprintf(KeyPropertyStatusVersion, id))
			p.Del(ctx, fmt.Sprintf(KeyPropertyStatus, id))
		}
		return nil
	})
	return err
}
