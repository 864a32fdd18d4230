package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCache mirrors queue state rows under queue:<campaign_id> with a
// short TTL so the status endpoint rarely hits Postgres.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func cacheKey(campaignID string) string {
	return fmt.Sprintf("queue:%s", campaignID)
}

func (c *RedisCache) GetState(ctx context.Context, campaignID string) (State, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(campaignID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		// A corrupt mirror is treated as a miss; the DB row is authoritative.
		return State{}, false, nil
	}
	return st, true, nil
}

func (c *RedisCache) SetState(ctx context.Context, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(st.CampaignID), raw, snapshotTTL).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, campaignID string) error {
	return c.rdb.Del(ctx, cacheKey(campaignID)).Err()
}
