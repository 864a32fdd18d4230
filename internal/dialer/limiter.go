package dialer

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"dialer-platform/pkg/utils"
)

// slotTTL bounds how long a crashed process can pin dial slots.
const slotTTL = 2 * time.Hour

const slotKey = "dialer:active_calls"

// RedisSlotLimiter enforces the fleet-wide concurrent-call cap through the
// shared redis counter.
type RedisSlotLimiter struct {
	rdb   *redis.Client
	limit int
}

func NewRedisSlotLimiter(rdb *redis.Client, limit int) *RedisSlotLimiter {
	return &RedisSlotLimiter{rdb: rdb, limit: limit}
}

func (l *RedisSlotLimiter) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, slotKey, l.limit, slotTTL)
}

func (l *RedisSlotLimiter) Release(ctx context.Context) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, slotKey)
}

// UnlimitedSlots disables the dial cap; used when no limit is configured.
type UnlimitedSlots struct{}

func (UnlimitedSlots) Acquire(context.Context) (bool, error) { return true, nil }

func (UnlimitedSlots) Release(context.Context) error { return nil }
