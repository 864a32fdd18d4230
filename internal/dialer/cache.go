package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dialer-platform/internal/calls"
)

// contextTTL keeps call context around well past any realistic call length.
const contextTTL = time.Hour

// RedisContextCache stores per-call context under call:context:<session id>.
type RedisContextCache struct {
	rdb *redis.Client
}

func NewRedisContextCache(rdb *redis.Client) *RedisContextCache {
	return &RedisContextCache{rdb: rdb}
}

func contextKey(callSessionID string) string {
	return fmt.Sprintf("call:context:%s", callSessionID)
}

func (c *RedisContextCache) Set(ctx context.Context, cc calls.CallContext) error {
	raw, err := json.Marshal(cc)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, contextKey(cc.CallSessionID), raw, contextTTL).Err()
}

// Get returns the cached context, reporting a plain miss for expired or
// never-written entries.
func (c *RedisContextCache) Get(ctx context.Context, callSessionID string) (calls.CallContext, bool, error) {
	raw, err := c.rdb.Get(ctx, contextKey(callSessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return calls.CallContext{}, false, nil
		}
		return calls.CallContext{}, false, err
	}
	var cc calls.CallContext
	if err := json.Unmarshal(raw, &cc); err != nil {
		return calls.CallContext{}, false, nil
	}
	return cc, true, nil
}
