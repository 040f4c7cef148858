package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisMessageField  = "message_count"
	redisInterestField = "premium_clicks"

	// Keys outlive their day so late reads around midnight still resolve.
	redisRecordTTL = 48 * time.Hour
)

// RedisLedger keeps one hash per (user, date) and relies on HINCRBY for
// atomic increments.
type RedisLedger struct {
	client redis.Cmdable
	prefix string
}

func NewRedisLedger(client redis.Cmdable, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "quota"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (r *RedisLedger) key(userID, date string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, userID, date)
}

func (r *RedisLedger) Count(ctx context.Context, userID, date string) (int, error) {
	count, err := r.client.HGet(ctx, r.key(userID, date), redisMessageField).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis read usage: %w", err)
	}
	return count, nil
}

func (r *RedisLedger) Increment(ctx context.Context, userID, date string) (int, error) {
	return r.incr(ctx, userID, date, redisMessageField)
}

func (r *RedisLedger) RecordInterest(ctx context.Context, userID, date string) (int, error) {
	return r.incr(ctx, userID, date, redisInterestField)
}

func (r *RedisLedger) incr(ctx context.Context, userID, date, field string) (int, error) {
	key := r.key(userID, date)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, field, 1)
		pipe.Expire(ctx, key, redisRecordTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis increment %s: %w", field, err)
	}
	return int(incr.Val()), nil
}
